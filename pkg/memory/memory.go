// Package memory defines the data model of the MNEMIS memory hierarchy:
// tiers, scopes, entries with append-only provenance, per-agent access
// contracts and promotion proposals. Every constructor validates its inputs
// so no partially valid value is ever handed to the store.
package memory

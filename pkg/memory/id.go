package memory

import "github.com/google/uuid"

// NewID generates a unique identifier for entries and proposals.
func NewID() string {
	return uuid.New().String()
}

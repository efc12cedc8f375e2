package models

import (
	"github.com/google/uuid"
)

// NewID generates a new UUID
func NewID() uuid.UUID {
	return uuid.New()
}

// ValidateID checks if an ID is valid
func ValidateID(id string) (uuid.UUID, error) {
	return uuid.Parse(id)
}

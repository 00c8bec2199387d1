package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a job identifier (UUID v4, no prefix)
func NewJobID() string {
	return uuid.New().String()
}

// NewArtifactID generates an identifier for a screenshot artifact
func NewArtifactID() string {
	return uuid.New().String()
}

// IsValidUUID reports whether s parses as a UUID
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

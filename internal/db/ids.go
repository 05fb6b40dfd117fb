package db

import (
	"github.com/google/uuid"
)

// GenerateID returns a prefixed, time-ordered identifier.
func GenerateID(prefix string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return prefix + "_" + id.String(), nil
}

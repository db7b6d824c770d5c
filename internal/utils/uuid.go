package utils

import (
	"github.com/google/uuid"
)

// GenerateThreadID returns a time-ordered UUIDv7, falling back to a random
// UUIDv4 if the clock-based generator fails.
func GenerateThreadID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}

// GenerateRequestID returns a short id used to correlate log lines.
func GenerateRequestID() string {
	return uuid.New().String()[:8]
}

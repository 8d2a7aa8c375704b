package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateParticipantID generates a unique participant ID
func GenerateParticipantID() string {
	return GenerateID("participant")
}

// GenerateBroadcastID generates a unique broadcast ID
func GenerateBroadcastID() string {
	return GenerateID("broadcast")
}

// GenerateDestinationID generates a unique destination ID
func GenerateDestinationID() string {
	return GenerateID("destination")
}

// GenerateSourceID generates a unique media source ID
func GenerateSourceID() string {
	return GenerateID("source")
}

// GenerateID generates a prefixed unique ID
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ParticipantIDRegex validates participant ID format
	ParticipantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// DestinationIDRegex validates destination ID format
	DestinationIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateParticipantID validates participant ID
func ValidateParticipantID(id string) error {
	if id == "" {
		return fmt.Errorf("participant ID is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("participant ID is too long (max 100 characters)")
	}
	if !ParticipantIDRegex.MatchString(id) {
		return fmt.Errorf("invalid participant ID format")
	}
	return nil
}

// ValidateDisplayName validates a participant display name
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if utf8.RuneCountInString(name) > 64 {
		return fmt.Errorf("display name is too long (max 64 characters)")
	}
	return nil
}

// ValidateDestinationID validates destination ID
func ValidateDestinationID(id string) error {
	if id == "" {
		return fmt.Errorf("destination ID is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("destination ID is too long (max 100 characters)")
	}
	if !DestinationIDRegex.MatchString(id) {
		return fmt.Errorf("invalid destination ID format")
	}
	return nil
}

// ValidateIngestURL validates a destination ingest endpoint
func ValidateIngestURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("ingest URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid ingest URL: %v", err)
	}
	switch u.Scheme {
	case "http", "https", "rtmp", "rtmps":
	default:
		return fmt.Errorf("unsupported ingest URL scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("ingest URL must include a host")
	}
	return nil
}

// ValidateVolume validates a participant volume level
func ValidateVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("volume must be between 0 and 1")
	}
	return nil
}

// ValidateChatBody validates a chat message body
func ValidateChatBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("chat message is empty")
	}
	if utf8.RuneCountInString(body) > 500 {
		return fmt.Errorf("chat message is too long (max 500 characters)")
	}
	return nil
}

package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Input length constraints
const (
	MaxTopicLength           = 100
	MaxNominationLength      = 100
	MaxParticipantNameLength = 50
	MinNameLength            = 1

	MaxVotesPerVoter = 10
)

var (
	// Poll IDs are 6-character uppercase alphanumeric codes
	pollIDRegex = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	// Name validation regex - Unicode letters, digits, spaces, apostrophes, hyphens, underscores, dots
	// \p{L} matches any Unicode letter (includes accented characters)
	// \p{N} matches any Unicode number
	nameRegex = regexp.MustCompile(`^[\p{L}\p{N}\s'\-_.]+$`)
	// Dangerous characters that could be used for injection attacks
	dangerousCharsRegex = regexp.MustCompile(`[<>{}[\]\\;|&$()` + "`" + `]`)
)

// ValidatePollID validates that a string is a well-formed poll code.
func ValidatePollID(id string) error {
	if id == "" {
		return fmt.Errorf("poll ID cannot be empty")
	}
	if !pollIDRegex.MatchString(id) {
		return fmt.Errorf("invalid poll ID format (expected 6 uppercase alphanumeric characters)")
	}
	return nil
}

// validateText validates a free-text field with length and character constraints.
// Returns the sanitized text and an error if validation fails.
func validateText(text string, maxLen int, strict bool) (string, error) {
	text = strings.TrimSpace(text)

	if text == "" {
		return "", fmt.Errorf("cannot be empty")
	}
	if len(text) < MinNameLength {
		return "", fmt.Errorf("too short (min %d characters)", MinNameLength)
	}
	if len(text) > maxLen {
		return "", fmt.Errorf("too long (max %d characters)", maxLen)
	}

	// Names use a restricted character set; topics and nominations only need
	// the injection and control character checks.
	if strict && !nameRegex.MatchString(text) {
		return "", fmt.Errorf("contains invalid characters (allowed: letters, numbers, spaces, apostrophes, hyphens, underscores, dots)")
	}
	if dangerousCharsRegex.MatchString(text) {
		return "", fmt.Errorf("contains potentially dangerous characters")
	}
	for _, r := range text {
		if r < 32 || r == 127 {
			return "", fmt.Errorf("contains control characters")
		}
	}

	return text, nil
}

// ValidateTopic validates a poll topic.
func ValidateTopic(topic string) (string, error) {
	sanitized, err := validateText(topic, MaxTopicLength, false)
	if err != nil {
		return "", fmt.Errorf("topic %w", err)
	}
	return sanitized, nil
}

// ValidateNominationText validates nomination text.
func ValidateNominationText(text string) (string, error) {
	sanitized, err := validateText(text, MaxNominationLength, false)
	if err != nil {
		return "", fmt.Errorf("nomination %w", err)
	}
	return sanitized, nil
}

// ValidateParticipantName validates a participant display name.
func ValidateParticipantName(name string) (string, error) {
	sanitized, err := validateText(name, MaxParticipantNameLength, true)
	if err != nil {
		return "", fmt.Errorf("name %w", err)
	}
	return sanitized, nil
}

// ValidateVotesPerVoter validates the ranked-choice cap set at creation.
func ValidateVotesPerVoter(n int) error {
	if n < 1 {
		return fmt.Errorf("votesPerVoter must be at least 1")
	}
	if n > MaxVotesPerVoter {
		return fmt.Errorf("votesPerVoter too large (max %d)", MaxVotesPerVoter)
	}
	return nil
}

// Package uuid provides identifier generation for queue items and stream clients.
package uuid

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// Queue item ids: <unix millis>-<9 lowercase hex chars>
var queueIDRegex = regexp.MustCompile(`^[0-9]+-[0-9a-f]{9}$`)

const queueIDSuffixLen = 9

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewQueueID builds a queue item id from the creation time and a random suffix.
func NewQueueID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:queueIDSuffixLen]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// IsQueueID reports whether s has the queue item id shape.
func IsQueueID(s string) bool {
	return queueIDRegex.MatchString(s)
}

// IsValid checks if a string is a valid UUID v4.
// Enforces strict format with dashes and correct variant bits.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}

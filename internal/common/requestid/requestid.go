package requestid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// Header carries the request ID on ingest API requests and responses
	Header = "X-Request-ID"
	// MaxLength caps an accepted client-supplied ID
	MaxLength = 64
)

var invalidChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Resolve returns a sanitized form of incoming, or a new UUID when incoming
// is empty or has nothing usable left after sanitizing.
func Resolve(incoming string) string {
	id := invalidChars.ReplaceAllString(strings.TrimSpace(incoming), "")
	if id == "" {
		return uuid.NewString()
	}
	if len(id) > MaxLength {
		id = id[:MaxLength]
	}
	return id
}

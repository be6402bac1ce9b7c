// Package hostname parses per-fleet hostname pattern declarations and
// renders them into concrete fully qualified domain names.
package hostname

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultTagKey is the fleet tag that declares the hostname pattern.
	DefaultTagKey = "asg:hostname_pattern"

	// DefaultPlaceholder is the token replaced by the instance id.
	DefaultPlaceholder = "#instanceid"
)

// Parse errors, one per malformed-input class.
var (
	ErrMissingSeparator = errors.New("missing '@' zone separator")
	ErrEmptyTemplate    = errors.New("empty hostname template")
	ErrEmptyZoneID      = errors.New("empty zone id")
)

// Pattern is a parsed hostname pattern declaration of the form
// "<template>@<zoneID>", e.g. "web-#instanceid.example.com@Z123".
type Pattern struct {
	Template string
	ZoneID   string
}

// Parse splits a pattern declaration on the last '@'. The template may
// itself contain '@'; the zone id may not.
func Parse(s string) (Pattern, error) {
	idx := strings.LastIndex(s, "@")
	if idx < 0 {
		return Pattern{}, fmt.Errorf("hostname: parse pattern %q: %w", s, ErrMissingSeparator)
	}
	template, zoneID := s[:idx], s[idx+1:]
	if template == "" {
		return Pattern{}, fmt.Errorf("hostname: parse pattern %q: %w", s, ErrEmptyTemplate)
	}
	if zoneID == "" {
		return Pattern{}, fmt.Errorf("hostname: parse pattern %q: %w", s, ErrEmptyZoneID)
	}
	return Pattern{Template: template, ZoneID: zoneID}, nil
}

// Render substitutes every occurrence of placeholder in the template with
// the literal instance id. A template without the placeholder renders to a
// static hostname.
func (p Pattern) Render(placeholder, instanceID string) string {
	return strings.ReplaceAll(p.Template, placeholder, instanceID)
}

// Label returns the leading DNS label of an FQDN, used as the instance
// display name. e.g. "web-i-abc.example.com" → "web-i-abc".
func Label(fqdn string) string {
	fqdn = strings.TrimSuffix(fqdn, ".")
	if idx := strings.Index(fqdn, "."); idx >= 0 {
		return fqdn[:idx]
	}
	return fqdn
}

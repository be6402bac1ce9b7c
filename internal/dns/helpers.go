package dns

import (
	"strings"
)

// Canonical normalizes an FQDN for comparison: lowercase, no trailing dot.
// Providers return record names in varying shapes; the handler always
// compares canonical forms.
func Canonical(fqdn string) string {
	return strings.ToLower(strings.TrimSuffix(fqdn, "."))
}

// Absolute returns the FQDN with a trailing dot, the form zone APIs expect.
func Absolute(fqdn string) string {
	if strings.HasSuffix(fqdn, ".") {
		return fqdn
	}
	return fqdn + "."
}

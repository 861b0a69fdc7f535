// Package domain implements the syntactic and CAA validation described in
// spec §4.5: normalize a fully-qualified domain name to the form certificate
// records are keyed by, and optionally confirm the configured issuer is
// authorized via a CAA suffix walk.
package domain

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// grammar is deliberately permissive: labels of letters, digits and hyphens
// (not leading/trailing with a hyphen), joined by dots, at least two labels,
// the tail label free of digits (a registered-TLD shape check, not a TLD list
// lookup).
func validLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}

// InvalidDomainError reports a syntactic domain failure (spec §4.5:
// "invalid_domain (400)"). The Domain field carries the original,
// un-normalized input for interpolation into the message — unlike the
// literal-`${domain}`-left-unexpanded bug spec §9 flags, this error always
// names the offending domain.
type InvalidDomainError struct {
	Domain string
}

func (e *InvalidDomainError) Error() string {
	return fmt.Sprintf("domain: invalid domain %q", e.Domain)
}

// Validate normalizes d (punycode to Unicode, NFC, lowercase, per spec §8
// boundary case) and checks it against the domain grammar, returning the
// normalized form on success.
func Validate(d string) (string, error) {
	original := d
	unicodeForm, err := idna.New(idna.MapForLookup(), idna.Transitional(false)).ToUnicode(strings.ToLower(d))
	if err != nil {
		return "", &InvalidDomainError{Domain: original}
	}
	normalized := strings.ToLower(unicodeForm)

	labels := strings.Split(normalized, ".")
	if len(labels) < 2 {
		return "", &InvalidDomainError{Domain: original}
	}
	for _, label := range labels {
		asciiLabel, err := idna.ToASCII(label)
		if err != nil {
			return "", &InvalidDomainError{Domain: original}
		}
		checkLabel := label
		if strings.HasPrefix(asciiLabel, "xn--") {
			checkLabel = asciiLabel
		}
		if !validLabel(checkLabel) {
			return "", &InvalidDomainError{Domain: original}
		}
	}
	tail := labels[len(labels)-1]
	for _, r := range tail {
		if r >= '0' && r <= '9' {
			return "", &InvalidDomainError{Domain: original}
		}
	}

	return normalized, nil
}

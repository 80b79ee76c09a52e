// Package id implements parsing and validation of Matrix user identifiers
// of the form @localpart:domain.
package id

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidUserName is returned when a raw string is not a well-formed
// Matrix user identifier. Match with errors.Is.
var ErrInvalidUserName = errors.New("invalid user name")

// domainRe accepts a hostname (letters, digits, hyphens in dot-separated
// labels) or an IPv4 literal, with an optional port.
var domainRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*(:[0-9]{1,5})?$`)

// localpartRe follows the historical (relaxed) Matrix grammar: printable
// ASCII excluding ':' is accepted so identifiers issued by older servers
// still parse.
var localpartRe = regexp.MustCompile(`^[\x21-\x39\x3B-\x7E]+$`)

// UserID is a parsed Matrix user identifier. The zero value is not valid;
// construct one via Parse. Immutable once constructed.
type UserID struct {
	localpart string
	domain    string
}

// Parse validates raw as a full Matrix user identifier (@localpart:domain)
// and decomposes it. It performs no I/O. On failure the returned error
// wraps ErrInvalidUserName.
func Parse(raw string) (UserID, error) {
	if !strings.HasPrefix(raw, "@") {
		return UserID{}, fmt.Errorf("%w: missing leading '@'", ErrInvalidUserName)
	}

	local, domain, ok := strings.Cut(raw[1:], ":")
	if !ok {
		return UserID{}, fmt.Errorf("%w: missing ':' separator", ErrInvalidUserName)
	}
	if local == "" || !localpartRe.MatchString(local) {
		return UserID{}, fmt.Errorf("%w: bad localpart", ErrInvalidUserName)
	}
	if domain == "" || len(domain) > 255 || !domainRe.MatchString(domain) {
		return UserID{}, fmt.Errorf("%w: bad server domain", ErrInvalidUserName)
	}

	return UserID{localpart: local, domain: domain}, nil
}

// Localpart returns the part between '@' and ':'.
func (u UserID) Localpart() string { return u.localpart }

// Domain returns the server domain after ':'.
func (u UserID) Domain() string { return u.domain }

// IsZero reports whether u was not produced by a successful Parse.
func (u UserID) IsZero() bool { return u.localpart == "" && u.domain == "" }

// String reassembles the full identifier.
func (u UserID) String() string {
	return "@" + u.localpart + ":" + u.domain
}

// Package spacedomain holds the naming rules for workspaces: a display
// name and a URL-safe domain derived from it.
package spacedomain

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

const minLength = 3

var domainPattern = regexp.MustCompile(`^[0-9a-z-]*$`)

// Blacklist lists domains that collide with application routes.
var Blacklist = []string{
	"admin", "api", "app", "auth", "createworkspace", "invite", "join",
	"login", "logout", "new", "nexus", "profile", "settings", "share",
	"signup", "www",
}

// Messages are shown next to the form field they belong to.
const (
	MsgNameRequired   = "Name is required"
	MsgNameShort      = "Name must be at least 3 characters"
	MsgDomainRequired = "Domain is required"
	MsgDomainShort    = "Domain must be at least 3 characters"
	MsgDomainPattern  = "Domain must be only lowercase hyphens, letters, and numbers"
	MsgDomainBlocked  = "Domain is not allowed"
	MsgDomainExists   = "Domain already exists"
)

// FieldErrors maps a form field to its first failing rule.
type FieldErrors map[string]string

func (e FieldErrors) Empty() bool { return len(e) == 0 }

// Checker reports whether a domain is already taken by a space other
// than excludeSpaceID.
type Checker interface {
	DomainExists(ctx context.Context, domain, excludeSpaceID string) (bool, error)
}

// FromName drops punctuation and symbols, turns each whitespace rune into
// a hyphen and lowercases the result.
func FromName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			b.WriteByte('-')
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Normalize trims and lowercases a user-entered domain.
func Normalize(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func blocked(domain string) bool {
	for _, reserved := range Blacklist {
		if domain == reserved {
			return true
		}
	}
	return false
}

// Validate checks name and domain shape. It expects a normalized domain
// and does not touch storage.
func Validate(name, domain string) FieldErrors {
	errs := FieldErrors{}
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		errs["name"] = MsgNameRequired
	case len([]rune(name)) < minLength:
		errs["name"] = MsgNameShort
	}

	switch {
	case domain == "":
		errs["domain"] = MsgDomainRequired
	case len(domain) < minLength:
		errs["domain"] = MsgDomainShort
	case !domainPattern.MatchString(domain):
		errs["domain"] = MsgDomainPattern
	case blocked(domain):
		errs["domain"] = MsgDomainBlocked
	}
	return errs
}

// Check runs Validate and, when the domain is well formed, the
// uniqueness lookup.
func Check(ctx context.Context, checker Checker, spaceID, name, domain string) (FieldErrors, error) {
	errs := Validate(name, domain)
	if _, bad := errs["domain"]; bad {
		return errs, nil
	}
	exists, err := checker.DomainExists(ctx, domain, spaceID)
	if err != nil {
		return nil, err
	}
	if exists {
		errs["domain"] = MsgDomainExists
	}
	return errs, nil
}

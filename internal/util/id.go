package util

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases value and joins its alphanumeric runs with hyphens.
func Slugify(value string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(value), "-"), "-")
}

// PagePath builds a unique, readable URL segment for a page.
func PagePath(title string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	slug := Slugify(title)
	if slug == "" {
		return "page-" + suffix
	}
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	return slug + "-" + suffix
}

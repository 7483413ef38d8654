// Package banner manages page cover images: the built-in gallery and
// uploads to object storage.
package banner

import (
	"errors"
	"net/url"
	"strings"
)

const maxHeaderImageLength = 2048

var ErrInvalidHeaderImage = errors.New("header image must be a gallery cover or an http(s) url")

// Group is a titled set of covers shown together in the picker.
type Group struct {
	Name   string   `json:"name"`
	Images []string `json:"images"`
}

var gallery = []Group{
	{
		Name: "Color & Gradient",
		Images: []string{
			"/images/patterns/gradients_2.png",
			"/images/patterns/gradients_3.png",
			"/images/patterns/gradients_4.png",
			"/images/patterns/gradients_5.png",
			"/images/patterns/gradients_8.png",
			"/images/patterns/gradients_10.jpg",
			"/images/patterns/gradients_11.jpg",
			"/images/patterns/solid_beige.png",
			"/images/patterns/solid_blue.png",
			"/images/patterns/solid_red.png",
			"/images/patterns/solid_yellow.png",
		},
	},
}

// Gallery returns a copy of the built-in cover groups.
func Gallery() []Group {
	out := make([]Group, len(gallery))
	for i, group := range gallery {
		out[i] = Group{Name: group.Name, Images: append([]string(nil), group.Images...)}
	}
	return out
}

func inGallery(path string) bool {
	for _, group := range gallery {
		for _, image := range group.Images {
			if image == path {
				return true
			}
		}
	}
	return false
}

// NormalizeHeaderImage accepts nil (cover removed), a gallery path or an
// absolute http(s) URL. Blank strings clear the cover.
func NormalizeHeaderImage(value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil, nil
	}
	if len(trimmed) > maxHeaderImageLength {
		return nil, ErrInvalidHeaderImage
	}
	if inGallery(trimmed) {
		return &trimmed, nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, ErrInvalidHeaderImage
	}
	return &trimmed, nil
}

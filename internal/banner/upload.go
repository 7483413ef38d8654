package banner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"canopy/api/internal/util"
)

var (
	ErrUploadsDisabled = errors.New("cover uploads are not configured")
	ErrUnsupportedType = errors.New("cover must be a png, jpeg, gif or webp image")
	ErrTooLarge        = errors.New("cover image is too large")
	ErrEmptyUpload     = errors.New("cover image is empty")
)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// typeAliases maps non-standard types that clients still send.
var typeAliases = map[string]string{
	"image/jpg":   "image/jpeg",
	"image/pjpeg": "image/jpeg",
	"image/x-png": "image/png",
}

// ObjectStore is the slice of an S3-compatible bucket used for covers.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	URL(key string) string
}

type Uploader struct {
	objects  ObjectStore
	maxBytes int64
}

// NewUploader returns an uploader; a nil store disables uploads.
func NewUploader(objects ObjectStore, maxBytes int64) *Uploader {
	return &Uploader{objects: objects, maxBytes: maxBytes}
}

func (u *Uploader) Enabled() bool {
	return u != nil && u.objects != nil
}

// Upload is one cover file as received from a multipart form.
type Upload struct {
	SpaceID     string
	PageID      string
	ContentType string
	Body        io.Reader
}

// Put validates the image and stores it under
// covers/{spaceId}/{pageId}/{id}{ext}, returning its public URL.
func (u *Uploader) Put(ctx context.Context, upload Upload) (string, error) {
	if !u.Enabled() {
		return "", ErrUploadsDisabled
	}
	data, err := io.ReadAll(io.LimitReader(upload.Body, u.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read cover: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptyUpload
	}
	if int64(len(data)) > u.maxBytes {
		return "", ErrTooLarge
	}

	declared := strings.ToLower(strings.TrimSpace(strings.Split(upload.ContentType, ";")[0]))
	if alias, ok := typeAliases[declared]; ok {
		declared = alias
	}
	sniffed := http.DetectContentType(data)
	ext, ok := extensions[sniffed]
	if !ok || (declared != "" && declared != "application/octet-stream" && declared != sniffed) {
		return "", ErrUnsupportedType
	}

	key := fmt.Sprintf("covers/%s/%s/%s%s", upload.SpaceID, upload.PageID, util.NewID(""), ext)
	if err := u.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), sniffed); err != nil {
		return "", fmt.Errorf("store cover: %w", err)
	}
	log.Printf("banner: stored %s (%d bytes)", key, len(data))
	return u.objects.URL(key), nil
}

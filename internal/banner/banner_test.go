package banner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type fakeObjects struct {
	puts map[string][]byte
	ct   map[string]string
	err  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{puts: map[string][]byte{}, ct: map[string]string{}}
}

func (f *fakeObjects) Put(_ context.Context, key string, body io.Reader, size int64, contentType string) error {
	if f.err != nil {
		return f.err
	}
	data, _ := io.ReadAll(body)
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	f.puts[key] = data
	f.ct[key] = contentType
	return nil
}

func (f *fakeObjects) URL(key string) string { return "https://cdn.test/" + key }

func TestGalleryIsACopy(t *testing.T) {
	groups := Gallery()
	if len(groups) == 0 || len(groups[0].Images) == 0 {
		t.Fatal("expected built-in covers")
	}
	groups[0].Images[0] = "mutated"
	if Gallery()[0].Images[0] == "mutated" {
		t.Fatal("Gallery() must not expose internal state")
	}
}

func TestNormalizeHeaderImage(t *testing.T) {
	str := func(s string) *string { return &s }
	cases := []struct {
		name    string
		in      *string
		want    *string
		wantErr bool
	}{
		{name: "remove", in: nil, want: nil},
		{name: "blank clears", in: str("  "), want: nil},
		{name: "gallery", in: str("/images/patterns/solid_blue.png"), want: str("/images/patterns/solid_blue.png")},
		{name: "https", in: str(" https://images.test/a.png "), want: str("https://images.test/a.png")},
		{name: "unknown local path", in: str("/etc/passwd"), wantErr: true},
		{name: "script", in: str("javascript:alert(1)"), wantErr: true},
		{name: "too long", in: str("https://x.test/" + strings.Repeat("a", maxHeaderImageLength)), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeHeaderImage(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidHeaderImage) {
					t.Fatalf("expected ErrInvalidHeaderImage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeHeaderImage() error = %v", err)
			}
			if (got == nil) != (tc.want == nil) || (got != nil && *got != *tc.want) {
				t.Fatalf("NormalizeHeaderImage() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUploaderStoresUnderPageKey(t *testing.T) {
	objects := newFakeObjects()
	uploader := NewUploader(objects, 1<<20)

	url, err := uploader.Put(context.Background(), Upload{
		SpaceID: "sp-1", PageID: "pg-1", ContentType: "image/png", Body: bytes.NewReader(pngHeader),
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !strings.HasPrefix(url, "https://cdn.test/covers/sp-1/pg-1/") || !strings.HasSuffix(url, ".png") {
		t.Fatalf("unexpected url %q", url)
	}
	key := strings.TrimPrefix(url, "https://cdn.test/")
	if !bytes.Equal(objects.puts[key], pngHeader) || objects.ct[key] != "image/png" {
		t.Fatalf("object not stored as png at %s", key)
	}
}

func TestUploaderAcceptsJpgAlias(t *testing.T) {
	objects := newFakeObjects()
	jpeg := []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00rest")

	url, err := NewUploader(objects, 1<<20).Put(context.Background(), Upload{
		SpaceID: "sp-1", PageID: "pg-1", ContentType: "Image/JPG; charset=binary", Body: bytes.NewReader(jpeg),
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	key := strings.TrimPrefix(url, "https://cdn.test/")
	if !strings.HasSuffix(key, ".jpg") || objects.ct[key] != "image/jpeg" {
		t.Fatalf("expected a jpeg object, got %s stored as %q", key, objects.ct[key])
	}
}

func TestUploaderRejects(t *testing.T) {
	cases := []struct {
		name     string
		uploader *Uploader
		upload   Upload
		want     error
	}{
		{name: "disabled", uploader: NewUploader(nil, 10), upload: Upload{Body: bytes.NewReader(pngHeader)}, want: ErrUploadsDisabled},
		{name: "empty", uploader: NewUploader(newFakeObjects(), 10), upload: Upload{Body: bytes.NewReader(nil)}, want: ErrEmptyUpload},
		{name: "too large", uploader: NewUploader(newFakeObjects(), 8), upload: Upload{Body: bytes.NewReader(pngHeader)}, want: ErrTooLarge},
		{name: "not an image", uploader: NewUploader(newFakeObjects(), 1<<20), upload: Upload{ContentType: "text/plain", Body: strings.NewReader("hello world")}, want: ErrUnsupportedType},
		{name: "declared type mismatch", uploader: NewUploader(newFakeObjects(), 1<<20), upload: Upload{ContentType: "image/gif", Body: bytes.NewReader(pngHeader)}, want: ErrUnsupportedType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.uploader.Put(context.Background(), tc.upload); !errors.Is(err, tc.want) {
				t.Fatalf("Put() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestUploaderWrapsStoreFailure(t *testing.T) {
	objects := newFakeObjects()
	objects.err = errors.New("bucket unavailable")
	_, err := NewUploader(objects, 1<<20).Put(context.Background(), Upload{
		ContentType: "application/octet-stream", Body: bytes.NewReader(pngHeader),
	})
	if !errors.Is(err, objects.err) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestMinioStoreIntegration(t *testing.T) {
	endpoint := os.Getenv("CANOPY_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("CANOPY_TEST_MINIO_ENDPOINT not set")
	}
	ctx := context.Background()
	store, err := NewMinioStore(ctx, MinioConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("CANOPY_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("CANOPY_TEST_MINIO_SECRET_KEY"),
		Bucket:    "canopy-covers-test",
	})
	if err != nil {
		t.Fatalf("NewMinioStore() error = %v", err)
	}
	url, err := NewUploader(store, 1<<20).Put(ctx, Upload{SpaceID: "sp", PageID: "pg", Body: bytes.NewReader(pngHeader)})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !strings.Contains(url, "/canopy-covers-test/covers/sp/pg/") {
		t.Fatalf("unexpected url %q", url)
	}
}

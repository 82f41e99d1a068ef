// Package storage fetches claim images and JSON documents by reference.
// References are s3:// URIs, S3 HTTPS URLs (virtual-hosted or path-style)
// or local file paths.
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidRef = errors.New("invalid storage reference")
	ErrNotImage   = errors.New("not a supported image type")
)

// DefaultContentType is assumed when neither the object nor its extension
// says otherwise.
const DefaultContentType = "image/jpeg"

// ImageExtensions maps the extensions listed as claim photos to MIME types.
var ImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// IsImage reports whether key has one of the ImageExtensions.
func IsImage(key string) bool {
	_, ok := ImageExtensions[strings.ToLower(path.Ext(key))]
	return ok
}

// ContentType picks the object's declared type when it is an image type,
// then the extension's type, then DefaultContentType.
func ContentType(key, declared string) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	if ct, ok := ImageExtensions[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return DefaultContentType
}

// Location is a bucket and key pair.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// IsRemote reports whether ref names an S3 object rather than a local file.
func IsRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "s3://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "http://")
}

// ParseRef splits an S3 reference into bucket and key. Accepted forms:
//
//	s3://bucket/key
//	https://bucket.s3.region.amazonaws.com/key
//	https://bucket.s3.amazonaws.com/key
//	https://s3.region.amazonaws.com/bucket/key
//
// The key may be empty, which names the bucket root when listing.
func ParseRef(ref string) (Location, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return Location{}, fmt.Errorf("%w: %s: %v", ErrInvalidRef, ref, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "s3":
		if u.Host == "" {
			return Location{}, fmt.Errorf("%w: missing bucket in %s", ErrInvalidRef, ref)
		}
		return Location{Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
	case "https", "http":
	default:
		return Location{}, fmt.Errorf("%w: unsupported scheme in %s", ErrInvalidRef, ref)
	}

	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, ".amazonaws.com") {
		return Location{}, fmt.Errorf("%w: not an S3 host: %s", ErrInvalidRef, host)
	}
	p := strings.TrimPrefix(u.Path, "/")

	// Virtual-hosted: the bucket precedes the ".s3." label.
	if i := strings.Index(host, ".s3."); i > 0 {
		return Location{Bucket: u.Hostname()[:i], Key: p}, nil
	}
	if i := strings.Index(host, ".s3-"); i > 0 {
		return Location{Bucket: u.Hostname()[:i], Key: p}, nil
	}

	// Path-style: s3.amazonaws.com/bucket/key or s3.region.amazonaws.com/bucket/key.
	if strings.HasPrefix(host, "s3.") || strings.HasPrefix(host, "s3-") {
		bucket, key, _ := strings.Cut(p, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("%w: missing bucket in %s", ErrInvalidRef, ref)
		}
		return Location{Bucket: bucket, Key: key}, nil
	}
	return Location{}, fmt.Errorf("%w: unrecognised S3 URL %s", ErrInvalidRef, ref)
}

// localPath cleans a local reference, stripping an optional file:// prefix.
func localPath(ref string) string {
	return filepath.Clean(strings.TrimPrefix(ref, "file://"))
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Object is a fetched blob.
type Object struct {
	Data        []byte
	ContentType string
}

// Fetcher reads objects and lists images under a prefix.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (Object, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ObjectAPI is the subset of the S3 client the fetcher uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Fetcher reads objects from S3.
type S3Fetcher struct {
	api ObjectAPI
}

func NewS3Fetcher(api ObjectAPI) *S3Fetcher {
	return &S3Fetcher{api: api}
}

// Fetch downloads the object named by ref.
func (f *S3Fetcher) Fetch(ctx context.Context, ref string) (Object, error) {
	loc, err := ParseRef(ref)
	if err != nil {
		return Object{}, err
	}
	if loc.Key == "" {
		return Object{}, fmt.Errorf("%w: missing key in %s", ErrInvalidRef, ref)
	}

	log.Debug().Str("bucket", loc.Bucket).Str("key", loc.Key).Msg("Downloading from S3")
	out, err := f.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return Object{}, fmt.Errorf("S3 GetObject %s: %w", loc, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, fmt.Errorf("read %s: %w", loc, err)
	}
	return Object{Data: data, ContentType: ContentType(loc.Key, aws.ToString(out.ContentType))}, nil
}

// List returns s3:// references for every image under the prefix, sorted
// by key.
func (f *S3Fetcher) List(ctx context.Context, prefix string) ([]string, error) {
	loc, err := ParseRef(prefix)
	if err != nil {
		return nil, err
	}

	var refs []string
	p := s3.NewListObjectsV2Paginator(f.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(loc.Bucket),
		Prefix: aws.String(loc.Key),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2 %s: %w", loc, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if IsImage(key) {
				refs = append(refs, Location{Bucket: loc.Bucket, Key: key}.String())
			}
		}
	}
	sort.Strings(refs)
	log.Debug().Str("prefix", loc.String()).Int("images", len(refs)).Msg("Listed images")
	return refs, nil
}

// LocalFetcher reads files from disk, for the CLI.
type LocalFetcher struct{}

func (LocalFetcher) Fetch(_ context.Context, ref string) (Object, error) {
	p := localPath(ref)
	data, err := os.ReadFile(p)
	if err != nil {
		return Object{}, fmt.Errorf("read %s: %w", p, err)
	}
	return Object{Data: data, ContentType: ContentType(p, "")}, nil
}

// List walks dir recursively and returns image paths sorted
// alphabetically. Unreadable entries are skipped.
func (LocalFetcher) List(ctx context.Context, dir string) ([]string, error) {
	root := localPath(dir)
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", root)
		}
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}

	var refs []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("Error accessing path, skipping")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if IsImage(d.Name()) {
			refs = append(refs, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(refs)
	return refs, nil
}

// Router dispatches remote references to S3 and everything else to the
// local filesystem. Either side may be nil, in which case references of
// that kind are rejected.
type Router struct {
	Remote Fetcher
	Local  Fetcher
}

func (r Router) pick(ref string) (Fetcher, error) {
	if IsRemote(ref) {
		if r.Remote == nil {
			return nil, fmt.Errorf("%w: remote storage not configured for %s", ErrInvalidRef, ref)
		}
		return r.Remote, nil
	}
	if r.Local == nil {
		return nil, fmt.Errorf("%w: local files not allowed: %s", ErrInvalidRef, ref)
	}
	return r.Local, nil
}

func (r Router) Fetch(ctx context.Context, ref string) (Object, error) {
	f, err := r.pick(ref)
	if err != nil {
		return Object{}, err
	}
	return f.Fetch(ctx, ref)
}

func (r Router) List(ctx context.Context, prefix string) ([]string, error) {
	f, err := r.pick(prefix)
	if err != nil {
		return nil, err
	}
	return f.List(ctx, prefix)
}

// GetJSON fetches ref and decodes it into v.
func GetJSON(ctx context.Context, f Fetcher, ref string, v any) error {
	obj, err := f.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(obj.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	return nil
}

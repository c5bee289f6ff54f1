package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittovfs/pkg/backend"
)

// S3Backend implements backend.Backend using Amazon S3 or S3-compatible
// storage.
//
// Key Design:
//   - A backend path "/docs/report.txt" maps to key "<prefix>docs/report.txt"
//   - Directories are marker objects whose key ends with "/" ("<prefix>docs/")
//   - Directories are also implied by any object stored below them, so
//     buckets populated by other tools list correctly
//
// S3 Characteristics:
//   - No unix permission bits: S3Backend deliberately does NOT implement
//     backend.PermissionBackend
//   - Rename is copy-then-delete and therefore not atomic
//   - Uploads larger than PartSize use multipart uploads so at most one part
//     is held in memory
//
// Thread Safety:
// Safe for concurrent use. Concurrent writes to the same key are
// last-write-wins.
type S3Backend struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	partSize  int64
	metrics   S3Metrics
}

// S3BackendConfig contains configuration for the S3 backend.
type S3BackendConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "dittovfs/" results in keys like "dittovfs/docs/report.txt"
	KeyPrefix string

	// PartSize is the size of each multipart upload part (default: 10MB)
	// Must be between 5MB and 5GB
	PartSize int64

	// Metrics is optional; nil disables metrics collection
	Metrics S3Metrics
}

// NewS3Backend creates a new S3-based backend.
//
// The bucket must already exist - this function does not create it.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: S3 configuration
//
// Returns:
//   - *S3Backend: Initialized backend
//   - error: Returns error if bucket access fails or context is cancelled
func NewS3Backend(ctx context.Context, cfg S3BackendConfig) (*S3Backend, error) {
	// ========================================================================
	// Step 1: Check context before S3 operations
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Validate configuration
	// ========================================================================

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = 10 * 1024 * 1024
	}

	if partSize < 5*1024*1024 {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > 5*1024*1024*1024 {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
	}

	keyPrefix := strings.TrimPrefix(cfg.KeyPrefix, "/")
	if keyPrefix != "" && !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}

	var m S3Metrics = noopMetrics{}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}

	// ========================================================================
	// Step 3: Verify bucket access
	// ========================================================================

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3Backend{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: keyPrefix,
		partSize:  partSize,
		metrics:   m,
	}, nil
}

// ============================================================================
// Key Mapping
// ============================================================================

// objectKey returns the key of the file stored at backend path p.
func (s *S3Backend) objectKey(p string) string {
	return s.keyPrefix + strings.TrimPrefix(backend.Clean(p), "/")
}

// dirKey returns the marker key of directory p. The root maps to the bare
// prefix (possibly empty).
func (s *S3Backend) dirKey(p string) string {
	p = backend.Clean(p)
	if p == "/" {
		return s.keyPrefix
	}
	return s.objectKey(p) + "/"
}

// pathFromKey maps an object key back to a backend path.
func (s *S3Backend) pathFromKey(key string) string {
	return backend.Clean(strings.TrimSuffix(strings.TrimPrefix(key, s.keyPrefix), "/"))
}

// copySource builds the URL-encoded CopySource value for key.
func (s *S3Backend) copySource(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.bucket + "/" + strings.Join(segments, "/")
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// ============================================================================
// Existence Checks
// ============================================================================

// headFile returns the HEAD result for the file at p, or nil if absent.
func (s *S3Backend) headFile(ctx context.Context, p string) (*s3.HeadObjectOutput, error) {
	if backend.IsRoot(p) {
		return nil, nil
	}

	start := time.Now()
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err != nil {
		if isNotFound(err) {
			s.metrics.ObserveOperation("HeadObject", time.Since(start), nil)
			return nil, nil
		}
		s.metrics.ObserveOperation("HeadObject", time.Since(start), err)
		return nil, fmt.Errorf("failed to head object %s: %w", p, err)
	}
	s.metrics.ObserveOperation("HeadObject", time.Since(start), nil)
	return out, nil
}

// dirExists reports whether p is a directory, either through a marker
// object or because objects exist below it.
func (s *S3Backend) dirExists(ctx context.Context, p string) (bool, error) {
	if backend.IsRoot(p) {
		return true, nil
	}

	start := time.Now()
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to list objects under %s: %w", p, err)
	}
	return len(out.Contents) > 0, nil
}

// ============================================================================
// Reading
// ============================================================================

// Has reports whether p exists as a file or directory.
func (s *S3Backend) Has(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	head, err := s.headFile(ctx, p)
	if err != nil {
		return false, err
	}
	if head != nil {
		return true, nil
	}
	return s.dirExists(ctx, p)
}

// Stat returns the object describing p.
func (s *S3Backend) Stat(ctx context.Context, p string) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}

	p = backend.Clean(p)

	head, err := s.headFile(ctx, p)
	if err != nil {
		return backend.Object{}, err
	}
	if head != nil {
		obj := backend.Object{Path: p, Type: backend.TypeFile}
		if head.ContentLength != nil {
			obj.Size = *head.ContentLength
		}
		if head.LastModified != nil {
			obj.ModTime = *head.LastModified
		}
		return obj, nil
	}

	isDir, err := s.dirExists(ctx, p)
	if err != nil {
		return backend.Object{}, err
	}
	if !isDir {
		return backend.Object{}, fmt.Errorf("stat %s: %w", p, backend.ErrNotFound)
	}
	return backend.Object{Path: p, Type: backend.TypeDir}, nil
}

// List returns the children (or all descendants) of dir.
//
// Non-recursive listings use the "/" delimiter so common prefixes become
// directories. Recursive listings scan every key below dir and synthesize
// the intermediate directories implied by nested keys.
func (s *S3Backend) List(ctx context.Context, dir string, recursive bool) ([]backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir = backend.Clean(dir)

	isDir, err := s.dirExists(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !isDir {
		head, err := s.headFile(ctx, dir)
		if err != nil {
			return nil, err
		}
		if head != nil {
			return nil, fmt.Errorf("list %s: %w", dir, backend.ErrNotDirectory)
		}
		return nil, fmt.Errorf("list %s: %w", dir, backend.ErrNotFound)
	}

	prefix := s.dirKey(dir)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	files := make(map[string]backend.Object)
	dirs := make(map[string]struct{})

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", dir, err)
		}

		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			dirs[s.pathFromKey(*cp.Prefix)] = struct{}{}
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || *obj.Key == prefix {
				continue
			}

			p := s.pathFromKey(*obj.Key)

			if strings.HasSuffix(*obj.Key, "/") {
				dirs[p] = struct{}{}
			} else {
				o := backend.Object{Path: p, Type: backend.TypeFile}
				if obj.Size != nil {
					o.Size = *obj.Size
				}
				if obj.LastModified != nil {
					o.ModTime = *obj.LastModified
				}
				files[p] = o
			}

			if recursive {
				// Intermediate directories without markers
				for parent := path.Dir(p); parent != dir && backend.IsWithin(parent, dir); parent = path.Dir(parent) {
					dirs[parent] = struct{}{}
				}
			}
		}
	}

	objects := make([]backend.Object, 0, len(files)+len(dirs))
	for p := range dirs {
		objects = append(objects, backend.Object{Path: p, Type: backend.TypeDir})
	}
	for _, o := range files {
		objects = append(objects, o)
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Path < objects[j].Path
	})

	return objects, nil
}

// ReadStream downloads the file p.
func (s *S3Backend) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p = backend.Clean(p)

	start := time.Now()
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err != nil {
		if isNotFound(err) {
			s.metrics.ObserveOperation("GetObject", time.Since(start), nil)

			isDir, dirErr := s.dirExists(ctx, p)
			if dirErr == nil && isDir {
				return nil, fmt.Errorf("read %s: %w", p, backend.ErrIsDirectory)
			}
			return nil, fmt.Errorf("read %s: %w", p, backend.ErrNotFound)
		}
		s.metrics.ObserveOperation("GetObject", time.Since(start), err)
		return nil, fmt.Errorf("failed to get object %s: %w", p, err)
	}
	s.metrics.ObserveOperation("GetObject", time.Since(start), nil)

	return &metricsReadCloser{
		ReadCloser: result.Body,
		metrics:    s.metrics,
		operation:  "read",
	}, nil
}

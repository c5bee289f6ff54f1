package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittovfs/pkg/backend"
)

// maxDeleteBatch is the S3 limit of keys per DeleteObjects call.
const maxDeleteBatch = 1000

// CreateDir writes marker objects for p and every missing parent.
func (s *S3Backend) CreateDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p = backend.Clean(p)

	for dir := p; dir != "/"; dir = path.Dir(dir) {
		head, err := s.headFile(ctx, dir)
		if err != nil {
			return err
		}
		if head != nil {
			return fmt.Errorf("mkdir %s: %w", dir, backend.ErrNotDirectory)
		}

		if err := s.putObject(ctx, s.dirKey(dir), nil); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	return nil
}

// WriteStream uploads r to p. Content up to PartSize goes through a single
// PutObject; larger content is sent as a multipart upload one part at a
// time.
func (s *S3Backend) WriteStream(ctx context.Context, p string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p = backend.Clean(p)
	if p == "/" {
		return 0, fmt.Errorf("write %s: %w", p, backend.ErrIsDirectory)
	}

	isDir, err := s.dirExists(ctx, p)
	if err != nil {
		return 0, err
	}
	if isDir {
		return 0, fmt.Errorf("write %s: %w", p, backend.ErrIsDirectory)
	}

	key := s.objectKey(p)

	// Read the first part; if the stream ends inside it, a single PutObject
	// is enough.
	first := make([]byte, s.partSize)
	n, err := io.ReadFull(r, first)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if err := s.putObject(ctx, key, first[:n]); err != nil {
			return 0, fmt.Errorf("write %s: %w", p, err)
		}
		s.metrics.RecordBytes("write", int64(n))
		return int64(n), nil
	case err != nil:
		return 0, fmt.Errorf("write %s: %w", p, err)
	}

	written, err := s.multipartUpload(ctx, key, first, r)
	if err != nil {
		return written, fmt.Errorf("write %s: %w", p, err)
	}
	s.metrics.RecordBytes("write", written)
	return written, nil
}

func (s *S3Backend) putObject(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	s.metrics.ObserveOperation("PutObject", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// multipartUpload sends first and the rest of r as numbered parts. The
// upload is aborted on any failure so no orphaned parts are left behind.
func (s *S3Backend) multipartUpload(ctx context.Context, key string, first []byte, r io.Reader) (int64, error) {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create multipart upload: %w", err)
	}
	uploadID := created.UploadId

	abort := func() {
		_, abortErr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		var noSuchUpload *types.NoSuchUpload
		if abortErr != nil && !errors.As(abortErr, &noSuchUpload) {
			s.metrics.ObserveOperation("AbortMultipartUpload", 0, abortErr)
		}
	}

	var (
		parts   []types.CompletedPart
		written int64
		buf     = first
	)

	for partNumber := int32(1); ; partNumber++ {
		start := time.Now()
		result, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(key),
			UploadId:   uploadID,
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(buf),
		})
		s.metrics.ObserveOperation("UploadPart", time.Since(start), err)
		if err != nil {
			abort()
			return written, fmt.Errorf("failed to upload part %d: %w", partNumber, err)
		}

		written += int64(len(buf))
		parts = append(parts, types.CompletedPart{
			ETag:       result.ETag,
			PartNumber: aws.Int32(partNumber),
		})

		if len(buf) < int(s.partSize) {
			break
		}

		buf = first[:cap(first)]
		n, err := io.ReadFull(r, buf)
		if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			abort()
			return written, fmt.Errorf("failed to read part %d: %w", partNumber+1, err)
		}
		buf = buf[:n]
	}

	start := time.Now()
	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	s.metrics.ObserveOperation("CompleteMultipartUpload", time.Since(start), err)
	if err != nil {
		abort()
		return written, fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return written, nil
}

// Delete removes the file p, or every key below the directory p.
func (s *S3Backend) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p = backend.Clean(p)

	head, err := s.headFile(ctx, p)
	if err != nil {
		return err
	}
	if head != nil {
		start := time.Now()
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(p)),
		})
		s.metrics.ObserveOperation("DeleteObject", time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to delete object %s: %w", p, err)
		}
		return nil
	}

	keys, err := s.keysUnder(ctx, p)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		if p == "/" {
			return nil
		}
		return fmt.Errorf("delete %s: %w", p, backend.ErrNotFound)
	}

	return s.deleteKeys(ctx, keys)
}

// keysUnder returns every key below directory p, marker included.
func (s *S3Backend) keysUnder(ctx context.Context, p string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.dirKey(p)),
	})
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", p, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	return keys, nil
}

// deleteKeys removes keys in batches of maxDeleteBatch.
func (s *S3Backend) deleteKeys(ctx context.Context, keys []string) error {
	for i := 0; i < len(keys); i += maxDeleteBatch {
		end := i + maxDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}

		objects := make([]types.ObjectIdentifier, 0, end-i)
		for _, key := range keys[i:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
		}

		start := time.Now()
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		s.metrics.ObserveOperation("DeleteObjects", time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d object(s), first %s: %s",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}

	return nil
}

// Copy duplicates the file src at dst with a server-side copy.
func (s *S3Backend) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, dst = backend.Clean(src), backend.Clean(dst)

	head, err := s.headFile(ctx, src)
	if err != nil {
		return err
	}
	if head == nil {
		isDir, err := s.dirExists(ctx, src)
		if err != nil {
			return err
		}
		if isDir {
			return fmt.Errorf("copy %s: %w", src, backend.ErrIsDirectory)
		}
		return fmt.Errorf("copy %s: %w", src, backend.ErrNotFound)
	}

	return s.copyKey(ctx, s.objectKey(src), s.objectKey(dst))
}

func (s *S3Backend) copyKey(ctx context.Context, srcKey, dstKey string) error {
	start := time.Now()
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(s.copySource(srcKey)),
	})
	s.metrics.ObserveOperation("CopyObject", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to copy object %s: %w", srcKey, err)
	}
	return nil
}

// Rename moves a file or every key of a directory. Each key is copied
// before the originals are deleted.
func (s *S3Backend) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from, to = backend.Clean(from), backend.Clean(to)

	head, err := s.headFile(ctx, from)
	if err != nil {
		return err
	}
	if head != nil {
		if err := s.copyKey(ctx, s.objectKey(from), s.objectKey(to)); err != nil {
			return err
		}
		return s.deleteKeys(ctx, []string{s.objectKey(from)})
	}

	keys, err := s.keysUnder(ctx, from)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("rename %s: %w", from, backend.ErrNotFound)
	}

	srcPrefix, dstPrefix := s.dirKey(from), s.dirKey(to)
	for _, key := range keys {
		if err := s.copyKey(ctx, key, dstPrefix+key[len(srcPrefix):]); err != nil {
			return err
		}
	}

	return s.deleteKeys(ctx, keys)
}

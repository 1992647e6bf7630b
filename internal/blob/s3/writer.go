package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

const (
	minPartSize        int64 = 5 * 1024 * 1024
	defaultConcurrency       = 3
)

// Writer implements domain.BlobWriter. Archived objects are immutable, so
// every upload is sent with a long-lived Cache-Control.
type Writer struct {
	c        *Client
	uploader *manager.Uploader
}

// WriterOption adjusts the multipart uploader.
type WriterOption func(*manager.Uploader)

// WithConcurrency sets how many parts upload in parallel.
func WithConcurrency(n int) WriterOption {
	return func(u *manager.Uploader) {
		if n > 0 {
			u.Concurrency = n
		}
	}
}

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client, opts ...WriterOption) *Writer {
	uploader := manager.NewUploader(c.S3(), func(u *manager.Uploader) {
		u.PartSize = minPartSize
		u.Concurrency = defaultConcurrency
		u.LeavePartsOnError = false
		for _, opt := range opts {
			opt(u)
		}
	})
	return &Writer{c: c, uploader: uploader}
}

// Put uploads data with a single PutObject request. Readers that report
// their length send it as Content-Length.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	in := w.input(path, data, contentType)
	if l, ok := data.(interface{ Len() int }); ok {
		in.ContentLength = aws.Int64(int64(l.Len()))
	}
	if _, err := w.c.S3().PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data as JSONL through the multipart uploader. Part
// sizes below the S3 minimum of 5 MiB are raised to it.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	partSize = max(partSize, minPartSize)
	_, err := w.uploader.Upload(ctx, w.input(path, data, contentTypeJSONL), func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s (part size %d): %w", path, partSize, err)
	}
	return nil
}

func (w *Writer) input(path string, data io.Reader, contentType string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:       aws.String(w.c.Bucket()),
		Key:          aws.String(w.c.Key(path)),
		Body:         data,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	}
}

var _ domain.BlobWriter = (*Writer)(nil)

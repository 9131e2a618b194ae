// Package blob stores document attachments in S3-compatible object storage.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxAttachmentSize caps uploads at 25 MiB.
const MaxAttachmentSize = 25 << 20

// ErrTooLarge is returned when an upload exceeds MaxAttachmentSize.
var ErrTooLarge = fmt.Errorf("attachment exceeds %d bytes", MaxAttachmentSize)

type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Service{client: client, bucket: bucket}, nil
}

// Put uploads an attachment. The object key namespaces by document so
// deleting a document can sweep its attachments with a prefix listing.
func (s *Service) Put(ctx context.Context, documentID, attachmentID, filename, contentType string, r io.Reader, size int64) (string, error) {
	if size > MaxAttachmentSize {
		return "", ErrTooLarge
	}
	key := objectKey(documentID, attachmentID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put attachment %s: %w", key, err)
	}
	return key, nil
}

// Get opens an attachment for reading. The caller closes the reader.
func (s *Service) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", key, err)
	}
	return obj, nil
}

// PresignedGet returns a time-limited download URL.
func (s *Service) PresignedGet(ctx context.Context, key, filename string, expiry time.Duration) (string, error) {
	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign attachment %s: %w", key, err)
	}
	return u.String(), nil
}

// Delete removes an attachment object.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete attachment %s: %w", key, err)
	}
	return nil
}

// DeleteDocumentAttachments removes every object under a document's prefix.
func (s *Service) DeleteDocumentAttachments(ctx context.Context, documentID string) error {
	prefix := documentID + "/"
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list attachments for %s: %w", documentID, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("delete attachment %s: %w", obj.Key, err)
		}
	}
	return nil
}

func objectKey(documentID, attachmentID, filename string) string {
	return fmt.Sprintf("%s/%s-%s", documentID, attachmentID, filename)
}

package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

// MinioStore implements Store against any S3-compatible object store.
type MinioStore struct {
	client *minio.Client
	bucket string
	strict bool
	logger *logrus.Logger
}

// NewMinioStore creates the object-store backend and verifies the bucket
// exists, failing fast on misconfiguration.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL, strict bool, logger *logrus.Logger) (*MinioStore, error) {
	if endpoint == "" || bucket == "" {
		return nil, qerr.StorageUnavailable(fmt.Errorf("artifact endpoint or bucket not configured"))
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, qerr.StorageUnavailable(fmt.Errorf("create object-store client: %w", err))
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, qerr.StorageUnavailable(fmt.Errorf("check bucket %s: %w", bucket, err))
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, qerr.StorageUnavailable(fmt.Errorf("create bucket %s: %w", bucket, err))
		}
	}

	logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"bucket":   bucket,
		"strict":   strict,
	}).Info("artifact store connected")

	return &MinioStore{client: client, bucket: bucket, strict: strict, logger: logger}, nil
}

func (s *MinioStore) Container() string { return s.bucket }

func (s *MinioStore) Put(ctx context.Context, org, project, logicalPath string, data []byte, contentType string) (*WriteReceipt, error) {
	name, err := blobName(org, project, logicalPath, s.strict)
	if err != nil {
		return nil, err
	}
	if org == "" {
		s.logger.WithField("blob", name).Warn("orgless artifact write permitted in non-strict mode")
	}

	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, classifyIO(err)
	}

	return &WriteReceipt{
		URL:    fmt.Sprintf("s3://%s/%s", s.bucket, name),
		Name:   name,
		SHA256: checksum(data),
		Bytes:  int64(len(data)),
	}, nil
}

func (s *MinioStore) Get(ctx context.Context, container, blobName string) ([]byte, error) {
	if container == "" {
		container = s.bucket
	}
	obj, err := s.client.GetObject(ctx, container, blobName, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyIO(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, qerr.NotFoundf("blob %s not found", blobName)
		}
		return nil, classifyIO(err)
	}
	return data, nil
}

func (s *MinioStore) List(ctx context.Context, container, prefix string, limit int) ([]BlobInfo, error) {
	if container == "" {
		container = s.bucket
	}
	var infos []BlobInfo
	for obj := range s.client.ListObjects(ctx, container, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classifyIO(obj.Err)
		}
		infos = append(infos, BlobInfo{
			Name:         obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
		if limit > 0 && len(infos) >= limit {
			break
		}
	}
	return infos, nil
}

func (s *MinioStore) DeletePrefix(ctx context.Context, container, prefix string) (int, error) {
	if container == "" {
		container = s.bucket
	}
	// Refuse unscoped deletes; a prefix outside a tenant tree is a bug.
	if prefix == "" || prefix == "/" {
		return 0, qerr.Validation("delete_prefix requires a non-empty prefix")
	}
	deleted := 0
	for obj := range s.client.ListObjects(ctx, container, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return deleted, classifyIO(obj.Err)
		}
		if err := s.client.RemoveObject(ctx, container, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return deleted, classifyIO(err)
		}
		deleted++
	}
	s.logger.WithFields(logrus.Fields{"prefix": prefix, "deleted": deleted}).Info("artifact prefix deleted")
	return deleted, nil
}

// classifyIO maps object-store failures onto the artifact error surface:
// only network-class failures are retryable by callers.
func classifyIO(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return qerr.NotFoundf("blob not found: %v", err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return qerr.StorageUnavailable(err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "credential") || strings.Contains(msg, "access denied") {
		return qerr.StorageUnavailable(err)
	}
	return qerr.TransientIO(err)
}

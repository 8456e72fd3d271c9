package store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/i474232898/weather-history/internal/weather"
)

// ObjectConfig configures the MinIO raw-payload mirror.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectStore keeps raw segment payloads in an S3-compatible bucket under
// raw/location_<id>/<start>_<end>.csv. Object presence is the resume marker.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore connects to MinIO and creates the bucket when missing.
func NewObjectStore(ctx context.Context, cfg ObjectConfig) (*ObjectStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("store: minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("store: bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("store: make bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &ObjectStore{client: cli, bucket: cfg.Bucket}, nil
}

// ObjectKey returns the object key of a segment.
func ObjectKey(seg weather.Segment) string {
	return fmt.Sprintf("raw/location_%d/%s_%s.csv", seg.LocationID, seg.StartCompact(), seg.EndCompact())
}

func (s *ObjectStore) Get(ctx context.Context, seg weather.Segment) ([]byte, bool, error) {
	key := ObjectKey(seg)

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: stat %s: %w", key, err)
	}
	if info.Size == 0 {
		return nil, false, nil
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s: %w", key, err)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, false, fmt.Errorf("store: read %s: %w", key, err)
	}
	return body, true, nil
}

func (s *ObjectStore) Put(ctx context.Context, seg weather.Segment, body []byte) error {
	key := ObjectKey(seg)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

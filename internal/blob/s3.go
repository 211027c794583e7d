// Package blob stores photo payload bytes in S3-compatible object storage.
// The backend write path uploads the bytes through a presigned PUT and keeps
// only the object key in the record payload.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Store is the object-storage surface the write coordinator uses.
type Store interface {
	// PresignPut returns a fresh storage key and a presigned PUT URL for it.
	PresignPut(ctx context.Context) (key, url string, err error)
	// Upload PUTs data to a presigned URL.
	Upload(ctx context.Context, url string, data []byte) error
}

// S3Store implements Store against an S3-compatible endpoint (MinIO in
// development).
type S3Store struct {
	user     string
	password string
	bucket   string
	region   string
	endpoint string
	http     *http.Client
}

func NewS3Store(user, password, bucket, region, endpoint string) *S3Store {
	return &S3Store{
		user:     user,
		password: password,
		bucket:   bucket,
		region:   region,
		endpoint: endpoint,
		http:     &http.Client{},
	}
}

// StorageKey builds a date-partitioned object key for a new photo.
func StorageKey() string {
	d := time.Now()
	return fmt.Sprintf("photos/%d/%d/%d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *S3Store) presignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(s.region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.user,
			s.password,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.endpoint)
	})

	return s3.NewPresignClient(client), nil
}

func (s *S3Store) PresignPut(ctx context.Context) (string, string, error) {
	presignClient, err := s.presignClient(ctx)
	if err != nil {
		return "", "", err
	}

	bucket := s.bucket
	key := StorageKey()

	req, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", "", err
	}

	return key, req.URL, nil
}

// Upload PUTs data to the presigned URL and fails on any non-200 response.
func (s *S3Store) Upload(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload failed: %s; body: %s", resp.Status, string(b))
	}
	return nil
}

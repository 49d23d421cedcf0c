// Package blob resolves content file references to object storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultPresignTTL = 15 * time.Minute

var (
	ErrInvalidRef    = errors.New("invalid content file reference")
	ErrNotConfigured = errors.New("object storage not configured")
)

type objectClient interface {
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

type Store struct {
	client objectClient
	bucket string
	ttl    time.Duration
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func New(opts Options) (*Store, error) {
	if opts.Endpoint == "" {
		return nil, ErrNotConfigured
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newStore(client, opts.Bucket), nil
}

func newStore(client objectClient, bucket string) *Store {
	return &Store{client: client, bucket: bucket, ttl: defaultPresignTTL}
}

// PresignPage returns a time-limited GET URL for the content file behind
// fileReference, pointing the viewer at the given zero-based page.
func (s *Store) PresignPage(ctx context.Context, fileReference string, pageIndex int) (string, error) {
	bucket, key, err := s.locate(fileReference)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("response-content-disposition", "inline")
	u, err := s.client.PresignedGetObject(ctx, bucket, key, s.ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	if pageIndex >= 0 {
		u.Fragment = fmt.Sprintf("page=%d", pageIndex+1)
	}
	return u.String(), nil
}

// Exists reports whether the content file behind fileReference is present.
func (s *Store) Exists(ctx context.Context, fileReference string) (bool, error) {
	bucket, key, err := s.locate(fileReference)
	if err != nil {
		return false, err
	}
	if _, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// locate accepts either a bare object key in the configured bucket or a
// minio://bucket/key reference.
func (s *Store) locate(ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "minio://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return "", "", ErrInvalidRef
		}
		return bucket, key, nil
	}
	key := strings.TrimLeft(ref, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", "", ErrInvalidRef
	}
	return s.bucket, key, nil
}

// Copyright 2025 FreshFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package media stores harvest and quality-issue photos in Google Cloud
// Storage and hands out short-lived signed URLs for reading them back.
package media

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// defaultSignedURLTTL is how long a download link stays valid when the
// config does not say otherwise.
const defaultSignedURLTTL = 15 * time.Minute

// Config holds the settings needed to reach the photo bucket.
type Config struct {
	// Bucket is the GCS bucket photos are written to. Required.
	Bucket string

	// CredentialsFile points at a service account JSON key file. When
	// empty, CredentialsJSON is tried next, then application default
	// credentials.
	CredentialsFile string

	// CredentialsJSON holds an inline service account key.
	CredentialsJSON string

	// Endpoint overrides the GCS API endpoint, which lets tests point
	// at a fake-gcs-server instance.
	Endpoint string

	// SignedURLTTL controls how long download links stay valid.
	SignedURLTTL time.Duration
}

// Store is a GCS-backed photo store.
type Store struct {
	client       *storage.Client
	bucket       string
	signedURLTTL time.Duration
}

// New connects to GCS and verifies the configured bucket is reachable.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("media store requires a bucket name")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	} else if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to verify bucket %s: %w", cfg.Bucket, err)
	}

	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = defaultSignedURLTTL
	}

	return &Store{client: client, bucket: cfg.Bucket, signedURLTTL: ttl}, nil
}

// UploadHarvestPhoto stores a photo under harvests/{harvestID}/ and
// returns the object path.
func (s *Store) UploadHarvestPhoto(ctx context.Context, harvestID string, data []byte, contentType string) (string, error) {
	return s.upload(ctx, objectPath("harvests", harvestID, contentType), data, contentType)
}

// UploadIssuePhoto stores a photo under issues/{issueID}/ and returns
// the object path.
func (s *Store) UploadIssuePhoto(ctx context.Context, issueID string, data []byte, contentType string) (string, error) {
	return s.upload(ctx, objectPath("issues", issueID, contentType), data, contentType)
}

func (s *Store) upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("photo payload is empty")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object %s: %w", key, err)
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// SignedURL generates a time-limited GET link for a stored photo. The
// path may be either the bare object key or a gs:// URI produced by an
// earlier upload.
func (s *Store) SignedURL(objectRef string) (string, error) {
	key := s.objectKey(objectRef)
	if key == "" {
		return "", fmt.Errorf("object reference %q is not in bucket %s", objectRef, s.bucket)
	}

	opts := &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(s.signedURLTTL),
	}

	url, err := s.client.Bucket(s.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for %s: %w", key, err)
	}
	return url, nil
}

// Delete removes a stored photo.
func (s *Store) Delete(ctx context.Context, objectRef string) error {
	key := s.objectKey(objectRef)
	if key == "" {
		return fmt.Errorf("object reference %q is not in bucket %s", objectRef, s.bucket)
	}
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// HealthCheck verifies the bucket is still reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	return err
}

// Close releases the underlying GCS client.
func (s *Store) Close() error {
	return s.client.Close()
}

// objectKey strips a gs://bucket/ prefix when the reference belongs to
// this store's bucket. References to other buckets are rejected.
func (s *Store) objectKey(objectRef string) string {
	if !strings.HasPrefix(objectRef, "gs://") {
		return objectRef
	}
	trimmed := strings.TrimPrefix(objectRef, "gs://")
	bucket, key, found := strings.Cut(trimmed, "/")
	if !found || bucket != s.bucket {
		return ""
	}
	return key
}

func objectPath(prefix, id, contentType string) string {
	return path.Join(prefix, id, uuid.New().String()+extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

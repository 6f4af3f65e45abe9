// Package storage holds profile avatars in an object store, keyed by the
// owning user's id.
package storage

import (
	"context"
	"fmt"
	"io"
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// AvatarStore wraps an ObjectStorage backend with avatar-shaped operations.
type AvatarStore struct {
	backend ObjectStorage
}

// NewAvatarStore constructs an AvatarStore over the provided backend.
func NewAvatarStore(backend ObjectStorage) *AvatarStore {
	return &AvatarStore{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (s *AvatarStore) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put uploads a user's avatar.
func (s *AvatarStore) Put(ctx context.Context, userID int64, r io.Reader, size int64, contentType string) error {
	return s.backend.Put(ctx, avatarKey(userID), r, size, contentType)
}

// Get opens a reader for a user's avatar.
func (s *AvatarStore) Get(ctx context.Context, userID int64) (io.ReadCloser, error) {
	return s.backend.Get(ctx, avatarKey(userID))
}

// Delete removes a user's avatar.
func (s *AvatarStore) Delete(ctx context.Context, userID int64) error {
	return s.backend.Delete(ctx, avatarKey(userID))
}

// Bucket returns the configured bucket name.
func (s *AvatarStore) Bucket() string {
	return s.backend.Bucket()
}

func avatarKey(userID int64) string {
	return fmt.Sprintf("avatars/%d", userID)
}

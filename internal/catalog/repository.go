// Package catalog stores source video metadata.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"segment-transcoder/internal/media"
)

// Field names a mutable metadata field.
type Field string

const (
	FieldAccessToken  Field = "access_token"
	FieldThumbnailURL Field = "thumbnail_url"
)

// Repository defines the concurrency-safe contract for video metadata.
// Records are never deleted.
type Repository interface {
	// Create stores a new record. A record with the same ID is rejected with
	// ErrAlreadyExists.
	Create(ctx context.Context, meta *media.SourceMetadata) error

	// Get returns a copy of the record, or ErrNotFound.
	Get(ctx context.Context, id media.VideoID) (*media.SourceMetadata, error)

	// UpdateField replaces one mutable field in place.
	UpdateField(ctx context.Context, id media.VideoID, field Field, value string) error

	// List returns all records ordered by creation time.
	List(ctx context.Context) ([]*media.SourceMetadata, error)

	// Count returns the number of records. Used for metrics.
	Count(ctx context.Context) (int, error)
}

var (
	// ErrNotFound is returned when no record exists for an ID. It matches
	// media.ErrUnknownSource.
	ErrNotFound = fmt.Errorf("catalog: video not found: %w", media.ErrUnknownSource)

	// ErrAlreadyExists is returned by Create for a duplicate ID.
	ErrAlreadyExists = errors.New("catalog: video already exists")

	// ErrUnknownField is returned by UpdateField for an immutable or unknown field.
	ErrUnknownField = errors.New("catalog: field is not updatable")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// Create implements Repository.Create.
func (r *InMemoryRepository) Create(_ context.Context, meta *media.SourceMetadata) error {
	if meta == nil || meta.ID == "" {
		return fmt.Errorf("catalog: create: missing video id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetVideo(meta.ID); exists {
		return ErrAlreadyExists
	}
	rec := *meta
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	r.store.SetVideo(&rec)
	meta.CreatedAt = rec.CreatedAt
	return nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(_ context.Context, id media.VideoID) (*media.SourceMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.store.GetVideo(id)
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// UpdateField implements Repository.UpdateField.
func (r *InMemoryRepository) UpdateField(_ context.Context, id media.VideoID, field Field, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.GetVideo(id)
	if !ok {
		return ErrNotFound
	}
	switch field {
	case FieldAccessToken:
		rec.AccessToken = value
	case FieldThumbnailURL:
		rec.ThumbnailURL = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return nil
}

// List implements Repository.List.
func (r *InMemoryRepository) List(_ context.Context) ([]*media.SourceMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListVideoIDs()
	out := make([]*media.SourceMetadata, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.store.GetVideo(id); ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Count implements Repository.Count.
func (r *InMemoryRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.ListVideoIDs()), nil
}

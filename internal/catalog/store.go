package catalog

import "segment-transcoder/internal/media"

// Store is the persistence abstraction behind InMemoryRepository.
// Implementations need not be safe for concurrent use; the repository
// serializes access.
type Store interface {
	GetVideo(id media.VideoID) (*media.SourceMetadata, bool)
	SetVideo(v *media.SourceMetadata)
	ListVideoIDs() []media.VideoID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	videos map[media.VideoID]*media.SourceMetadata
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		videos: make(map[media.VideoID]*media.SourceMetadata),
	}
}

// GetVideo implements Store.GetVideo.
func (s *InMemoryStore) GetVideo(id media.VideoID) (*media.SourceMetadata, bool) {
	v, ok := s.videos[id]
	return v, ok
}

// SetVideo implements Store.SetVideo.
func (s *InMemoryStore) SetVideo(v *media.SourceMetadata) {
	s.videos[v.ID] = v
}

// ListVideoIDs implements Store.ListVideoIDs.
func (s *InMemoryStore) ListVideoIDs() []media.VideoID {
	ids := make([]media.VideoID, 0, len(s.videos))
	for id := range s.videos {
		ids = append(ids, id)
	}
	return ids
}

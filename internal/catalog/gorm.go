package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"segment-transcoder/internal/media"
)

// videoRecord is the database row for a source video.
type videoRecord struct {
	ID           string `gorm:"primaryKey;size:64"`
	Name         string `gorm:"size:512"`
	Location     string
	AccessToken  string
	Format       string `gorm:"size:128"`
	Width        int
	Height       int
	Bitrate      int64
	DurationMs   int64
	Size         int64
	ThumbnailURL string
	CreatedAt    time.Time `gorm:"index"`
}

func (videoRecord) TableName() string { return "videos" }

func recordFromMeta(m *media.SourceMetadata) videoRecord {
	return videoRecord{
		ID:           string(m.ID),
		Name:         m.Name,
		Location:     m.Location,
		AccessToken:  m.AccessToken,
		Format:       m.Format,
		Width:        m.Width,
		Height:       m.Height,
		Bitrate:      m.Bitrate,
		DurationMs:   m.Duration.Milliseconds(),
		Size:         m.Size,
		ThumbnailURL: m.ThumbnailURL,
		CreatedAt:    m.CreatedAt,
	}
}

func (r videoRecord) toMeta() *media.SourceMetadata {
	return &media.SourceMetadata{
		ID:           media.VideoID(r.ID),
		Name:         r.Name,
		Location:     r.Location,
		AccessToken:  r.AccessToken,
		Format:       r.Format,
		Width:        r.Width,
		Height:       r.Height,
		Bitrate:      r.Bitrate,
		Duration:     time.Duration(r.DurationMs) * time.Millisecond,
		Size:         r.Size,
		ThumbnailURL: r.ThumbnailURL,
		CreatedAt:    r.CreatedAt,
	}
}

var fieldColumns = map[Field]string{
	FieldAccessToken:  "access_token",
	FieldThumbnailURL: "thumbnail_url",
}

// GormRepository implements Repository on a SQL database through GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository migrates the schema and returns the repository.
func NewGormRepository(ctx context.Context, db *gorm.DB) (*GormRepository, error) {
	if err := db.WithContext(ctx).AutoMigrate(&videoRecord{}); err != nil {
		return nil, fmt.Errorf("migrating videos: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// Create implements Repository.Create.
func (r *GormRepository) Create(ctx context.Context, meta *media.SourceMetadata) error {
	if meta == nil || meta.ID == "" {
		return fmt.Errorf("catalog: create: missing video id")
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	rec := recordFromMeta(meta)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&videoRecord{}).Where("id = ?", rec.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("checking video: %w", err)
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("creating video: %w", err)
		}
		return nil
	})
}

// Get implements Repository.Get.
func (r *GormRepository) Get(ctx context.Context, id media.VideoID) (*media.SourceMetadata, error) {
	var rec videoRecord
	if err := r.db.WithContext(ctx).Where("id = ?", string(id)).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting video %s: %w", id, err)
	}
	return rec.toMeta(), nil
}

// UpdateField implements Repository.UpdateField.
func (r *GormRepository) UpdateField(ctx context.Context, id media.VideoID, field Field, value string) error {
	col, ok := fieldColumns[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	res := r.db.WithContext(ctx).Model(&videoRecord{}).Where("id = ?", string(id)).Update(col, value)
	if res.Error != nil {
		return fmt.Errorf("updating %s of %s: %w", field, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Repository.List.
func (r *GormRepository) List(ctx context.Context) ([]*media.SourceMetadata, error) {
	var recs []videoRecord
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing videos: %w", err)
	}
	out := make([]*media.SourceMetadata, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toMeta())
	}
	return out, nil
}

// Count implements Repository.Count.
func (r *GormRepository) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&videoRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting videos: %w", err)
	}
	return int(n), nil
}

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"segment-transcoder/internal/catalog"
	"segment-transcoder/internal/media"
)

// SignatureParam is the query parameter carrying a read token.
const SignatureParam = "sig"

// DefaultRefreshBefore is how close to expiry a token may get before the
// resolver replaces it.
const DefaultRefreshBefore = time.Hour

// Resolver turns a video ID into a readable blob location. The catalog is
// re-read on every call so refreshed tokens are picked up immediately.
type Resolver struct {
	repo          catalog.Repository
	issuer        *Issuer
	log           *slog.Logger
	refreshBefore time.Duration
}

// NewResolver returns a resolver over repo.
func NewResolver(repo catalog.Repository, issuer *Issuer, log *slog.Logger) *Resolver {
	return &Resolver{repo: repo, issuer: issuer, log: log, refreshBefore: DefaultRefreshBefore}
}

// Resolve returns the stored location of id and a token valid for reading it.
// A missing or nearly expired token is reissued and persisted.
func (r *Resolver) Resolve(ctx context.Context, id media.VideoID) (string, string, error) {
	meta, err := r.repo.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	token, err := r.ensureToken(ctx, meta)
	if err != nil {
		return "", "", err
	}
	return meta.Location, token, nil
}

// ResolveReadableURL returns the blob URL of id with its token attached.
func (r *Resolver) ResolveReadableURL(ctx context.Context, id media.VideoID) (string, error) {
	location, token, err := r.Resolve(ctx, id)
	if err != nil {
		return "", err
	}
	return SignedURL(location, token)
}

// Reissue replaces the token for meta unconditionally and stores it.
func (r *Resolver) Reissue(ctx context.Context, meta *media.SourceMetadata) (string, error) {
	return r.reissue(ctx, meta)
}

func (r *Resolver) ensureToken(ctx context.Context, meta *media.SourceMetadata) (string, error) {
	if !r.needsRefresh(meta.AccessToken) {
		return meta.AccessToken, nil
	}
	return r.reissue(ctx, meta)
}

func (r *Resolver) needsRefresh(token string) bool {
	if token == "" {
		return true
	}
	exp, err := r.issuer.Expiry(token)
	if err != nil {
		return true
	}
	return r.issuer.now().Add(r.refreshBefore).After(exp)
}

func (r *Resolver) reissue(ctx context.Context, meta *media.SourceMetadata) (string, error) {
	blob, err := BlobName(meta.Location)
	if err != nil {
		return "", err
	}
	token, exp, err := r.issuer.Issue(blob)
	if err != nil {
		return "", err
	}
	if err := r.repo.UpdateField(ctx, meta.ID, catalog.FieldAccessToken, token); err != nil {
		return "", fmt.Errorf("storing token for %s: %w", meta.ID, err)
	}
	r.log.Debug("access token reissued", "video_id", meta.ID, "expires", exp)
	return token, nil
}

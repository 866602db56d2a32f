// Package assets answers whether an asset may trade and where its tokens live.
package assets

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/xtrntr/rwaexchange/internal/models"
)

// Source is the authoritative asset store
type Source interface {
	GetAsset(ctx context.Context, id int64) (*models.Asset, error)
}

// Registry reads assets through a cache. Cache failures are logged and
// fall through to the source.
type Registry struct {
	source Source
	cache  Cache
	log    logrus.FieldLogger
}

// NewRegistry creates a registry
func NewRegistry(source Source, cache Cache, log logrus.FieldLogger) *Registry {
	return &Registry{source: source, cache: cache, log: log}
}

// Asset returns the asset record
func (r *Registry) Asset(ctx context.Context, id int64) (*models.Asset, error) {
	a, ok, err := r.cache.Get(ctx, id)
	if err != nil {
		r.log.WithError(err).WithField("asset_id", id).Warn("Asset cache read failed")
	}
	if ok {
		return a, nil
	}

	a, err = r.source.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, *a); err != nil {
		r.log.WithError(err).WithField("asset_id", id).Warn("Asset cache write failed")
	}
	return a, nil
}

// IsTradable reports whether orders on the asset may be matched
func (r *Registry) IsTradable(ctx context.Context, id int64) (bool, error) {
	a, err := r.Asset(ctx, id)
	if err != nil {
		return false, err
	}
	return a.Tradable(), nil
}

// Invalidate drops the cached record after a status change
func (r *Registry) Invalidate(ctx context.Context, id int64) error {
	return r.cache.Delete(ctx, id)
}

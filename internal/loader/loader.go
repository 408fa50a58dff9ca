// Package loader hydrates cache categories from the authoritative
// store. Each category has one idempotent loader issuing a single
// broad query and materializing typed projections into the cache.
package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/store"
)

// Loader brings cache categories up to date from the store.
type Loader struct {
	gw    *store.Gateway
	cache *cache.Cache
	log   *zap.Logger

	mu     sync.Mutex
	loaded map[cache.Category]bool
}

// New builds a loader and registers the preload refresh hooks for the
// store-backed categories.
func New(gw *store.Gateway, c *cache.Cache, log *zap.Logger) *Loader {
	l := &Loader{
		gw:     gw,
		cache:  c,
		log:    log,
		loaded: make(map[cache.Category]bool),
	}
	for _, cat := range []cache.Category{
		cache.GuildData, cache.UserData, cache.EventsData,
		cache.RosterData, cache.StaticData,
	} {
		cat := cat
		c.RegisterRefresher(cat, func(key string) error {
			return l.RefreshKey(context.Background(), key)
		})
	}
	return l
}

// loaderFor dispatches on the closed category set. discord_entities
// and temporary are caller-supplied and have no store loader.
func (l *Loader) loaderFor(cat cache.Category) (func(context.Context) error, error) {
	switch cat {
	case cache.GuildData:
		return l.loadGuildData, nil
	case cache.UserData:
		return l.loadUserData, nil
	case cache.EventsData:
		return l.loadEventsData, nil
	case cache.RosterData:
		return l.loadRosterData, nil
	case cache.StaticData:
		return l.loadStaticData, nil
	default:
		return nil, fmt.Errorf("category %s has no store loader", cat)
	}
}

// Ensure loads cat unless it is already marked loaded. A loader that
// fails does not set the marker, so a later Ensure retries.
func (l *Loader) Ensure(ctx context.Context, cat cache.Category) error {
	l.mu.Lock()
	if l.loaded[cat] {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	fn, err := l.loaderFor(cat)
	if err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return fmt.Errorf("loading %s: %w", cat, err)
	}

	l.mu.Lock()
	l.loaded[cat] = true
	l.mu.Unlock()
	return nil
}

// Reload clears the loaded marker and hydrates cat again.
func (l *Loader) Reload(ctx context.Context, cat cache.Category) error {
	l.mu.Lock()
	delete(l.loaded, cat)
	l.mu.Unlock()
	return l.Ensure(ctx, cat)
}

// LoadAll runs every per-category loader in parallel. Sibling failures
// never abort each other; errors are aggregated and logged. Safe to
// call repeatedly: fully loaded categories are no-ops.
func (l *Loader) LoadAll(ctx context.Context) error {
	cats := []cache.Category{
		cache.GuildData, cache.UserData, cache.EventsData,
		cache.RosterData, cache.StaticData,
	}
	var (
		g, gctx = errgroup.WithContext(ctx)
		errMu   sync.Mutex
		errs    error
	)
	for _, cat := range cats {
		cat := cat
		g.Go(func() error {
			if err := l.Ensure(gctx, cat); err != nil {
				l.log.Error("category load failed", zap.String("category", string(cat)), zap.Error(err))
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
			return nil // never cancel siblings
		})
	}
	_ = g.Wait()
	return errs
}

// RefreshKey re-materializes the single projection behind a canonical
// cache key. Used by the preload tasks.
func (l *Loader) RefreshKey(ctx context.Context, key string) error {
	parts := strings.Split(key, ":")
	cat := cache.Category(parts[0])
	args := parts[1:]
	switch {
	case cat == cache.RosterData && len(args) == 2:
		return l.refreshMember(ctx, args[0], args[1])
	case cat == cache.EventsData && len(args) == 2:
		return l.refreshEvent(ctx, args[0], args[1])
	case cat == cache.GuildData && len(args) >= 1:
		return l.refreshGuild(ctx, args[0])
	default:
		return l.Reload(ctx, cat)
	}
}

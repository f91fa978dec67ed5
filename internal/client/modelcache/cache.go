// Package modelcache loads character and environment models once per
// (category, model id) and hands out independent clones.
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cory-johannsen/scenerelay/internal/client/animation"
)

// ErrInvalidKey is returned for an unknown category or non-positive model id.
var ErrInvalidKey = errors.New("invalid model key")

// Key identifies one model asset.
type Key struct {
	Category Category
	ModelID  int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Category, k.ModelID)
}

// Validate checks the category and id.
func (k Key) Validate() error {
	if !k.Category.Valid() || k.ModelID < 1 {
		return fmt.Errorf("%w: %s", ErrInvalidKey, k)
	}
	return nil
}

// Asset is a loaded model: its scene graph and animation clips.
type Asset struct {
	Root  *Node
	Clips []animation.Clip
}

// Loader fetches an asset from storage.
type Loader interface {
	Load(ctx context.Context, key Key) (Asset, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, key Key) (Asset, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, key Key) (Asset, error) { return f(ctx, key) }

// Transform places an instance in the world.
type Transform struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
	Scale       mgl64.Vec3
}

// Instance is one clone of a cached model with its own mixer.
type Instance struct {
	Key   Key
	Root  *Node
	Mixer *animation.Mixer
}

// Cache memoizes loaded assets. Entries are never evicted; failed loads
// are not cached. All methods are safe for concurrent use.
type Cache struct {
	loader Loader
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[Key]Asset
	group   singleflight.Group
}

// New creates a Cache over loader.
//
// Precondition: loader and logger must be non-nil.
func New(loader Loader, logger *zap.Logger) *Cache {
	return &Cache{
		loader:  loader,
		logger:  logger,
		entries: make(map[Key]Asset),
	}
}

// Get returns a fresh clone of the model for key placed at tr. The first
// request loads the asset; concurrent first requests share one load.
//
// Postcondition: The returned Instance shares no nodes or mixer state with
// any other Instance. The root is tagged with key.Category.
func (c *Cache) Get(ctx context.Context, key Key, tr Transform) (*Instance, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	asset, err := c.asset(ctx, key)
	if err != nil {
		return nil, err
	}

	root := asset.Root.Clone()
	root.Position = tr.Position
	root.Orientation = tr.Orientation
	if root.Orientation == (mgl64.Quat{}) {
		root.Orientation = mgl64.QuatIdent()
	}
	root.Scale = tr.Scale
	return &Instance{
		Key:   key,
		Root:  root,
		Mixer: animation.NewMixer(asset.Clips),
	}, nil
}

func (c *Cache) asset(ctx context.Context, key Key) (Asset, error) {
	c.mu.RLock()
	a, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		c.mu.RLock()
		a, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return a, nil
		}
		loaded, err := c.loader.Load(context.WithoutCancel(ctx), key)
		if err != nil {
			return Asset{}, fmt.Errorf("loading model %s: %w", key, err)
		}
		if loaded.Root == nil {
			return Asset{}, fmt.Errorf("loading model %s: empty scene graph", key)
		}
		loaded.Root = loaded.Root.Clone()
		loaded.Root.Category = key.Category
		loaded.Clips = append([]animation.Clip(nil), loaded.Clips...)

		c.mu.Lock()
		c.entries[key] = loaded
		c.mu.Unlock()
		c.logger.Debug("model cached",
			zap.String("key", key.String()),
			zap.Int("nodes", loaded.Root.Count()),
			zap.Int("clips", len(loaded.Clips)),
		)
		return loaded, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Asset{}, res.Err
		}
		return res.Val.(Asset), nil
	case <-ctx.Done():
		return Asset{}, ctx.Err()
	}
}

// Has reports whether key is cached.
func (c *Cache) Has(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of cached assets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

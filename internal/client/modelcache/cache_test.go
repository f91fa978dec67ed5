package modelcache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/scenerelay/internal/client/animation"
	"github.com/cory-johannsen/scenerelay/internal/client/modelcache"
)

func sampleAsset() modelcache.Asset {
	return modelcache.Asset{
		Root: &modelcache.Node{
			Name:        "Armature",
			Orientation: mgl64.QuatIdent(),
			Scale:       mgl64.Vec3{1, 1, 1},
			Children: []*modelcache.Node{
				{Name: "Hips", Position: mgl64.Vec3{0, 1, 0}},
				{Name: "Body"},
			},
		},
		Clips: []animation.Clip{{Name: "Happy Idle", Duration: 2}, {Name: "Walking", Duration: 1}},
	}
}

type countingLoader struct {
	calls atomic.Int32
	delay time.Duration
	fail  atomic.Bool
}

func (l *countingLoader) Load(_ context.Context, _ modelcache.Key) (modelcache.Asset, error) {
	l.calls.Add(1)
	time.Sleep(l.delay)
	if l.fail.Load() {
		return modelcache.Asset{}, errors.New("disk on fire")
	}
	return sampleAsset(), nil
}

var playerOne = modelcache.Key{Category: modelcache.CategoryPlayer, ModelID: 1}

func TestGet_LoadsOnceAndClones(t *testing.T) {
	loader := &countingLoader{}
	c := modelcache.New(loader, zaptest.NewLogger(t))

	tr := modelcache.Transform{Position: mgl64.Vec3{1, 2, 3}, Orientation: mgl64.QuatIdent(), Scale: mgl64.Vec3{}}
	a, err := c.Get(context.Background(), playerOne, tr)
	require.NoError(t, err)
	b, err := c.Get(context.Background(), playerOne, modelcache.Transform{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), loader.calls.Load())
	assert.True(t, c.Has(playerOne))
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, modelcache.CategoryPlayer, a.Root.Category)
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, a.Root.Position)
	assert.Equal(t, mgl64.QuatIdent(), b.Root.Orientation)
	assert.NotSame(t, a.Root, b.Root)
	assert.NotSame(t, a.Root.Children[0], b.Root.Children[0])
	assert.NotSame(t, a.Mixer, b.Mixer)

	a.Root.Children[0].Position = mgl64.Vec3{9, 9, 9}
	a.Root.SetUniformScale(3)
	assert.Equal(t, mgl64.Vec3{0, 1, 0}, b.Root.Children[0].Position)
	assert.Equal(t, mgl64.Vec3{}, b.Root.Scale)

	idleA, _ := a.Mixer.Action(animation.Idle)
	idleA.Reset().Play()
	idleB, _ := b.Mixer.Action(animation.Idle)
	assert.False(t, idleB.IsRunning())
}

func TestGet_ConcurrentFirstRequestsShareOneLoad(t *testing.T) {
	loader := &countingLoader{delay: 50 * time.Millisecond}
	c := modelcache.New(loader, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	roots := make([]*modelcache.Node, 8)
	for i := range roots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := c.Get(context.Background(), playerOne, modelcache.Transform{})
			if assert.NoError(t, err) {
				roots[i] = inst.Root
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), loader.calls.Load())
	for i := 1; i < len(roots); i++ {
		assert.NotSame(t, roots[0], roots[i])
	}
}

func TestGet_ErrorsAreNotCached(t *testing.T) {
	loader := &countingLoader{}
	loader.fail.Store(true)
	c := modelcache.New(loader, zaptest.NewLogger(t))

	_, err := c.Get(context.Background(), playerOne, modelcache.Transform{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "player/1")
	assert.False(t, c.Has(playerOne))

	loader.fail.Store(false)
	_, err = c.Get(context.Background(), playerOne, modelcache.Transform{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestGet_InvalidKey(t *testing.T) {
	c := modelcache.New(&countingLoader{}, zaptest.NewLogger(t))
	_, err := c.Get(context.Background(), modelcache.Key{Category: "vehicle", ModelID: 1}, modelcache.Transform{})
	assert.ErrorIs(t, err, modelcache.ErrInvalidKey)
	_, err = c.Get(context.Background(), modelcache.Key{Category: modelcache.CategoryNPC, ModelID: 0}, modelcache.Transform{})
	assert.ErrorIs(t, err, modelcache.ErrInvalidKey)
}

func TestGet_ContextCancelled(t *testing.T) {
	loader := &countingLoader{delay: 200 * time.Millisecond}
	c := modelcache.New(loader, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, playerOne, modelcache.Transform{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return c.Has(playerOne) }, 2*time.Second, 10*time.Millisecond)
}

func TestGet_LoaderMustReturnRoot(t *testing.T) {
	c := modelcache.New(modelcache.LoaderFunc(func(context.Context, modelcache.Key) (modelcache.Asset, error) {
		return modelcache.Asset{}, nil
	}), zaptest.NewLogger(t))
	_, err := c.Get(context.Background(), playerOne, modelcache.Transform{})
	assert.Error(t, err)
}

func TestNode_FindAndCount(t *testing.T) {
	root := sampleAsset().Root
	assert.Equal(t, 3, root.Count())
	require.NotNil(t, root.Find("Body"))
	assert.Nil(t, root.Find("Tail"))
}

func TestProperty_CloneIsIndependent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var build func(depth int) *modelcache.Node
		build = func(depth int) *modelcache.Node {
			n := &modelcache.Node{
				Name:     rapid.StringMatching(`[A-Za-z]{1,6}`).Draw(rt, "name"),
				Position: mgl64.Vec3{rapid.Float64Range(-10, 10).Draw(rt, "x"), 0, 0},
			}
			if depth < 3 {
				for i := rapid.IntRange(0, 3).Draw(rt, "kids"); i > 0; i-- {
					n.Children = append(n.Children, build(depth+1))
				}
			}
			return n
		}
		orig := build(0)
		clone := orig.Clone()
		if clone.Count() != orig.Count() {
			rt.Fatalf("count %d != %d", clone.Count(), orig.Count())
		}
		clone.Walk(func(n *modelcache.Node) bool {
			n.Position = mgl64.Vec3{99, 99, 99}
			return true
		})
		orig.Walk(func(n *modelcache.Node) bool {
			if n.Position.X() == 99 {
				rt.Fatalf("mutation leaked into original node %q", n.Name)
			}
			return true
		})
	})
}

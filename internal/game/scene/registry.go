package scene

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/scenerelay/internal/game/character"
)

// ErrUnknownScene is returned for a scene key absent from the catalog.
var ErrUnknownScene = errors.New("unknown scene")

// Registry is the fixed catalog of scenes, created once at startup.
type Registry struct {
	order      []string
	scenes     map[string]*Scene
	defaultKey string
}

// NewRegistry builds a registry from scenes. The default scene is
// defaultKey, or the first scene when defaultKey is empty.
//
// Precondition: at least one scene; keys unique and non-empty.
// Postcondition: Returns a Registry or an error describing the violation.
func NewRegistry(defaultKey string, scenes ...*Scene) (*Registry, error) {
	if len(scenes) == 0 {
		return nil, errors.New("scene registry requires at least one scene")
	}
	r := &Registry{scenes: make(map[string]*Scene, len(scenes))}
	for _, s := range scenes {
		if s.Key == "" {
			return nil, errors.New("scene key must not be empty")
		}
		if _, dup := r.scenes[s.Key]; dup {
			return nil, fmt.Errorf("duplicate scene key %q", s.Key)
		}
		r.scenes[s.Key] = s
		r.order = append(r.order, s.Key)
	}
	if defaultKey == "" {
		defaultKey = r.order[0]
	}
	if _, ok := r.scenes[defaultKey]; !ok {
		return nil, fmt.Errorf("default scene %q: %w", defaultKey, ErrUnknownScene)
	}
	r.defaultKey = defaultKey
	return r, nil
}

// Get returns the scene for key.
func (r *Registry) Get(key string) (*Scene, bool) {
	s, ok := r.scenes[key]
	return s, ok
}

// Default returns the scene new connections land in when none is requested.
func (r *Registry) Default() *Scene {
	return r.scenes[r.defaultKey]
}

// Scenes returns every scene in catalog order.
func (r *Registry) Scenes() []*Scene {
	out := make([]*Scene, len(r.order))
	for i, k := range r.order {
		out[i] = r.scenes[k]
	}
	return out
}

// Keys returns every scene key in catalog order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Locate returns the scene p currently occupies.
func (r *Registry) Locate(p *character.Player) (*Scene, bool) {
	s, ok := r.scenes[p.SceneKey]
	if !ok || !s.Has(p.ConnectionID) {
		return nil, false
	}
	return s, true
}

// Move transfers p from its current scene to the scene keyed to.
//
// Postcondition: p occupies exactly the target scene and p.SceneKey == to.
// Returns the scene p left (nil if it occupied none) or ErrUnknownScene, in
// which case nothing changes.
func (r *Registry) Move(p *character.Player, to string) (*Scene, error) {
	target, ok := r.scenes[to]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScene, to)
	}
	from, _ := r.Locate(p)
	if from == target {
		return from, nil
	}
	if from != nil {
		from.RemovePlayer(p.ConnectionID)
	}
	if err := target.AddPlayer(p); err != nil {
		return from, err
	}
	return from, nil
}

// PlayerCount returns the number of players across every scene.
func (r *Registry) PlayerCount() int {
	n := 0
	for _, s := range r.scenes {
		n += s.Len()
	}
	return n
}

// Occupancy returns the player count per scene key.
func (r *Registry) Occupancy() map[string]int {
	out := make(map[string]int, len(r.scenes))
	for k, s := range r.scenes {
		out[k] = s.Len()
	}
	return out
}

// Package scene holds the fixed catalog of scenes, the players occupying
// each one, and the snapshots sent to clients.
//
// Scenes and the Registry are not safe for concurrent use. They are owned by
// the gateway event loop, which serializes every mutation.
package scene

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/cory-johannsen/scenerelay/internal/game/character"
)

// Shape is the collision primitive approximating a piece of static geometry.
type Shape string

const (
	ShapeBox    Shape = "box"
	ShapeSphere Shape = "sphere"
)

// Valid reports whether s is a known shape.
func (s Shape) Valid() bool {
	return s == ShapeBox || s == ShapeSphere
}

// PhysicsObject names a node in the environment model and its collider shape.
type PhysicsObject struct {
	Name  string
	Shape Shape
}

// Environment describes the static environment model of a scene.
type Environment struct {
	ModelID        int
	SpawnScale     mgl64.Vec3
	SpawnPosition  mgl64.Vec3
	SpawnRotation  mgl64.Quat
	PhysicsObjects []PhysicsObject
}

// Floor describes the ground plane appearance.
type Floor struct {
	Color     string
	TextureID int
}

// Settings is the static presentation data of a scene.
type Settings struct {
	Floor       Floor
	Environment *Environment
}

// ErrAlreadyPresent is returned when adding a player that is already in the scene.
var ErrAlreadyPresent = errors.New("player already present in scene")

// Scene is one room of the world: its settings, its NPCs and its live players.
type Scene struct {
	Key      string
	Settings Settings

	npcs    []*character.Npc
	players map[string]*character.Player
}

// NewScene creates an empty scene populated with npcs in the given order.
//
// Precondition: key must be non-empty.
func NewScene(key string, settings Settings, npcs []*character.Npc) *Scene {
	ns := make([]*character.Npc, len(npcs))
	copy(ns, npcs)
	return &Scene{
		Key:      key,
		Settings: settings,
		npcs:     ns,
		players:  make(map[string]*character.Player),
	}
}

// NPCs returns the scene's NPCs in catalog order.
func (s *Scene) NPCs() []*character.Npc {
	out := make([]*character.Npc, len(s.npcs))
	copy(out, s.npcs)
	return out
}

// AddPlayer registers p in the scene and sets p.SceneKey.
//
// Postcondition: Returns ErrAlreadyPresent if p.ConnectionID is already present.
func (s *Scene) AddPlayer(p *character.Player) error {
	if _, ok := s.players[p.ConnectionID]; ok {
		return fmt.Errorf("scene %q: %w: %s", s.Key, ErrAlreadyPresent, p.ConnectionID)
	}
	s.players[p.ConnectionID] = p
	p.SceneKey = s.Key
	return nil
}

// RemovePlayer removes the player with connID. Removing an absent player is a no-op.
//
// Postcondition: Returns the removed player and true, or nil and false.
func (s *Scene) RemovePlayer(connID string) (*character.Player, bool) {
	p, ok := s.players[connID]
	if ok {
		delete(s.players, connID)
	}
	return p, ok
}

// Player looks up a player by connection id.
func (s *Scene) Player(connID string) (*character.Player, bool) {
	p, ok := s.players[connID]
	return p, ok
}

// Has reports whether connID occupies the scene.
func (s *Scene) Has(connID string) bool {
	_, ok := s.players[connID]
	return ok
}

// Len returns the number of players in the scene.
func (s *Scene) Len() int {
	return len(s.players)
}

// PlayerIDs returns the connection ids in the scene, sorted.
func (s *Scene) PlayerIDs() []string {
	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Players returns the players in the scene ordered by connection id.
func (s *Scene) Players() []*character.Player {
	ids := s.PlayerIDs()
	out := make([]*character.Player, len(ids))
	for i, id := range ids {
		out[i] = s.players[id]
	}
	return out
}

// State is a scene snapshot from the point of view of one player.
type State struct {
	SceneKey string
	// Current is the viewing player, or nil if it is not in the scene.
	Current  *character.Player
	NPCs     []*character.Npc
	Visitors []*character.Player
}

// StateFor builds the snapshot seen by viewerID.
//
// Postcondition: Visitors contains every other player in the scene ordered by
// connection id.
func (s *Scene) StateFor(viewerID string) State {
	st := State{SceneKey: s.Key, NPCs: s.NPCs()}
	for _, p := range s.Players() {
		if p.ConnectionID == viewerID {
			st.Current = p
			continue
		}
		st.Visitors = append(st.Visitors, p)
	}
	return st
}

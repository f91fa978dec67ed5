// Package character defines the shared state of avatars and non-player
// characters that occupy a scene.
package character

import (
	"errors"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrDegenerateOrientation is returned when an orientation quaternion has
// zero length or non-finite components and cannot be normalized.
var ErrDegenerateOrientation = errors.New("orientation quaternion is degenerate")

// SpawnPosition is where a freshly connected player appears.
var SpawnPosition = mgl64.Vec3{0, 0.05, 0}

// Up is the world vertical axis.
var Up = mgl64.Vec3{0, 1, 0}

// Character is the state shared by every entity drawn in a scene.
//
// Orientation is always a unit quaternion. Position is unbounded.
type Character struct {
	Username    string
	ModelID     int
	Position    mgl64.Vec3
	Orientation mgl64.Quat
}

// SetTransform overwrites position and orientation wholesale.
//
// Precondition: rot must have finite components and non-zero length.
// Postcondition: On success Orientation is rot normalized; on error the
// Character is unchanged.
func (c *Character) SetTransform(pos mgl64.Vec3, rot mgl64.Quat) error {
	n, err := NormalizeOrientation(rot)
	if err != nil {
		return err
	}
	c.Position = pos
	c.Orientation = n
	return nil
}

// ResetTransform moves the character to the world origin facing forward.
func (c *Character) ResetTransform() {
	c.Position = mgl64.Vec3{}
	c.Orientation = mgl64.QuatIdent()
}

// NormalizeOrientation returns q scaled to unit length.
//
// Postcondition: Returns ErrDegenerateOrientation when q cannot be normalized.
func NormalizeOrientation(q mgl64.Quat) (mgl64.Quat, error) {
	for _, f := range []float64{q.W, q.V[0], q.V[1], q.V[2]} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return mgl64.Quat{}, ErrDegenerateOrientation
		}
	}
	l := q.Len()
	if l < 1e-9 {
		return mgl64.Quat{}, ErrDegenerateOrientation
	}
	return q.Scale(1 / l), nil
}

// YawQuat returns the rotation of degrees about the vertical axis.
func YawQuat(degrees float64) mgl64.Quat {
	return mgl64.QuatRotate(mgl64.DegToRad(degrees), Up)
}

// Player is a Character owned by one client connection.
type Player struct {
	Character
	// ConnectionID is unique per live connection and keys every lookup.
	ConnectionID string
	// SceneKey is the scene the player currently occupies.
	SceneKey string
	// IsCurrentlyControlled marks the locally driven instance on a client.
	// It is never sent over the wire.
	IsCurrentlyControlled bool
}

// NewPlayer creates a player at the connection spawn point.
//
// Precondition: connID and username must be non-empty.
// Postcondition: Returns a Player at SpawnPosition with identity orientation.
func NewPlayer(connID, username string, modelID int, sceneKey string) *Player {
	return &Player{
		Character: Character{
			Username:    username,
			ModelID:     modelID,
			Position:    SpawnPosition,
			Orientation: mgl64.QuatIdent(),
		},
		ConnectionID: connID,
		SceneKey:     sceneKey,
	}
}

// Npc is a scripted Character placed by the scene catalog.
type Npc struct {
	Character
	Dialog Dialog
	// SpawnPosition and SpawnOrientation never change after construction.
	SpawnPosition    mgl64.Vec3
	SpawnOrientation mgl64.Quat
	// IsTalking is a client-side lock held while the talking animation plays.
	IsTalking bool
}

// NewNpc places an NPC at pos facing yawDegrees about the vertical axis.
//
// Postcondition: Position and Orientation equal the spawn transform.
func NewNpc(name string, modelID int, pos mgl64.Vec3, yawDegrees float64, dialog Dialog) *Npc {
	rot := YawQuat(yawDegrees)
	return &Npc{
		Character: Character{
			Username:    name,
			ModelID:     modelID,
			Position:    pos,
			Orientation: rot,
		},
		Dialog:           dialog,
		SpawnPosition:    pos,
		SpawnOrientation: rot,
	}
}

// Dialog is an ordered, immutable list of lines an NPC can speak.
type Dialog struct {
	lines []string
}

// NewDialog trims every line and drops the blank ones.
func NewDialog(lines ...string) Dialog {
	d := Dialog{lines: make([]string, 0, len(lines))}
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			d.lines = append(d.lines, l)
		}
	}
	return d
}

// Lines returns a copy of the dialog lines.
func (d Dialog) Lines() []string {
	out := make([]string, len(d.lines))
	copy(out, d.lines)
	return out
}

// Len returns the number of lines.
func (d Dialog) Len() int {
	return len(d.lines)
}

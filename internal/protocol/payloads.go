package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/cory-johannsen/scenerelay/internal/game/character"
	"github.com/cory-johannsen/scenerelay/internal/game/scene"
)

// EnvironmentModelPrefix tags environment descriptors for the client asset loader.
const EnvironmentModelPrefix = "environment"

// Vec3 is a position or scale on the wire: [x, y, z].
type Vec3 [3]float64

// Quat is an orientation on the wire: [x, y, z, w].
type Quat [4]float64

// ErrComponentCount is returned when a wire vector or quaternion has the wrong
// number of components.
var ErrComponentCount = errors.New("wrong number of components")

// UnmarshalJSON accepts exactly three numbers.
func (v *Vec3) UnmarshalJSON(b []byte) error { return decodeComponents(b, v[:]) }

// UnmarshalJSON accepts exactly four numbers.
func (q *Quat) UnmarshalJSON(b []byte) error { return decodeComponents(b, q[:]) }

// decodeComponents fills dst from a JSON array of the same length. A null
// leaves dst untouched.
func decodeComponents(b []byte, dst []float64) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var xs []float64
	if err := json.Unmarshal(b, &xs); err != nil {
		return err
	}
	if len(xs) != len(dst) {
		return fmt.Errorf("%w: got %d, want %d", ErrComponentCount, len(xs), len(dst))
	}
	copy(dst, xs)
	return nil
}

// Vec3From converts a math vector to its wire form.
func Vec3From(v mgl64.Vec3) Vec3 { return Vec3{v[0], v[1], v[2]} }

// Mgl converts v to a math vector.
func (v Vec3) Mgl() mgl64.Vec3 { return mgl64.Vec3{v[0], v[1], v[2]} }

// QuatFrom converts a quaternion to its wire form.
func QuatFrom(q mgl64.Quat) Quat { return Quat{q.V[0], q.V[1], q.V[2], q.W} }

// Mgl converts q to a quaternion.
func (q Quat) Mgl() mgl64.Quat {
	return mgl64.Quat{W: q[3], V: mgl64.Vec3{q[0], q[1], q[2]}}
}

// PhysicsObjectInfo names a collider in an environment model.
type PhysicsObjectInfo struct {
	Name  string `json:"name"`
	Shape string `json:"shape"`
}

// EnvironmentInfo describes the environment asset of a scene.
type EnvironmentInfo struct {
	ModelPrefix    string              `json:"modelPrefix"`
	ModelID        int                 `json:"modelId"`
	SpawnScale     Vec3                `json:"spawnScale"`
	SpawnPosition  Vec3                `json:"spawnPosition"`
	SpawnRotation  Quat                `json:"spawnRotation"`
	PhysicsObjects []PhysicsObjectInfo `json:"physicsObjects"`
}

// FloorInfo describes the ground plane.
type FloorInfo struct {
	Color     string `json:"color"`
	TextureID int    `json:"textureId"`
}

// SceneSettings is the presentation data of a scene.
type SceneSettings struct {
	Floor       FloorInfo        `json:"floor"`
	Environment *EnvironmentInfo `json:"environment,omitempty"`
}

// DialogInfo carries NPC dialog lines.
type DialogInfo struct {
	Messages []string `json:"messages"`
}

// NpcInfo is an NPC as sent to clients.
type NpcInfo struct {
	Username      string     `json:"username"`
	ModelID       int        `json:"modelId"`
	SpawnPosition Vec3       `json:"spawnPosition"`
	SpawnRotation Quat       `json:"spawnRotation"`
	Dialog        DialogInfo `json:"dialog"`
}

// SceneInfo is one catalog entry of the init message.
type SceneInfo struct {
	SceneKey string        `json:"sceneKey"`
	Settings SceneSettings `json:"settings"`
	NPCs     []NpcInfo     `json:"npcs"`
}

// Init is sent once to a newly accepted connection.
type Init struct {
	ID              string      `json:"id"`
	CurrentSceneKey string      `json:"currentSceneKey"`
	Scenes          []SceneInfo `json:"scenes"`
}

// PlayerInfo is the payload of player:joined and the player entries of scene-state.
type PlayerInfo struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	ModelID       int    `json:"modelId"`
	SpawnPosition Vec3   `json:"spawnPosition"`
	SpawnRotation Quat   `json:"spawnRotation"`
	SceneKey      string `json:"sceneKey,omitempty"`
}

// SceneState is a full scene snapshot from one player's point of view.
type SceneState struct {
	SceneKey      string       `json:"sceneKey"`
	CurrentPlayer *PlayerInfo  `json:"currentPlayer,omitempty"`
	NPCs          []NpcInfo    `json:"npcs"`
	Visitors      []PlayerInfo `json:"visitors"`
}

// PlayerLeft announces a departure.
type PlayerLeft struct {
	ID string `json:"id"`
}

// JoinScene requests a scene switch.
type JoinScene struct {
	SceneKey string `json:"sceneKey"`
}

// ClientUpdatePlayer is the per-tick movement report. The server relays the
// raw bytes; this struct is only used to read the transform.
type ClientUpdatePlayer struct {
	VisitorID     string          `json:"visitorId"`
	Delta         float64         `json:"delta"`
	KeysPressed   map[string]bool `json:"keysPressed"`
	SceneKey      string          `json:"sceneKey"`
	SpawnPosition *Vec3           `json:"spawnPosition"`
	SpawnRotation *Quat           `json:"spawnRotation"`
}

// ErrMissingTransform is returned when an update lacks position or rotation.
var ErrMissingTransform = errors.New("update is missing spawnPosition or spawnRotation")

// ErrNonFinite is returned when a transform contains NaN or Inf.
var ErrNonFinite = errors.New("update transform is not finite")

// Validate checks that the transform is present and finite.
func (u ClientUpdatePlayer) Validate() error {
	if u.SpawnPosition == nil || u.SpawnRotation == nil {
		return ErrMissingTransform
	}
	for _, f := range append(u.SpawnPosition[:], u.SpawnRotation[:]...) {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrNonFinite
		}
	}
	if u.Delta < 0 || math.IsNaN(u.Delta) || math.IsInf(u.Delta, 0) {
		return ErrNonFinite
	}
	return nil
}

// SendMessageRequest is a directed chat message from a client.
type SendMessageRequest struct {
	ReceiverUserID string `json:"receiverUserId"`
	Message        string `json:"message"`
}

// SendMessageDelivery is a chat message as delivered to its receiver.
type SendMessageDelivery struct {
	SenderUserID string `json:"senderUserId"`
	Message      string `json:"message"`
}

// TriggerEmote plays a named emote on an avatar.
type TriggerEmote struct {
	SceneKey      string `json:"sceneKey"`
	AnimationName string `json:"animationName"`
	AvatarUserID  string `json:"avatarUserId"`
}

// Fart triggers the particle effect on an avatar.
type Fart struct {
	SceneKey string `json:"sceneKey"`
	UserID   string `json:"userId"`
}

// Failed reports a rejected request.
type Failed struct {
	Message string `json:"message"`
}

// Emote clip names accepted in trigger-emote.
var emoteNames = map[string]bool{
	"Dancing":   true,
	"Side Kick": true,
	"Pain":      true,
	"Taunting":  true,
	"Fall":      true,
	"Cheering":  true,
}

// IsEmote reports whether name is a member of the closed emote set.
func IsEmote(name string) bool {
	return emoteNames[name]
}

// PlayerInfoFrom converts a player. sceneKey is set only when withScene is true.
func PlayerInfoFrom(p *character.Player, withScene bool) PlayerInfo {
	info := PlayerInfo{
		ID:            p.ConnectionID,
		Username:      p.Username,
		ModelID:       p.ModelID,
		SpawnPosition: Vec3From(p.Position),
		SpawnRotation: QuatFrom(p.Orientation),
	}
	if withScene {
		info.SceneKey = p.SceneKey
	}
	return info
}

// NpcInfoFrom converts an NPC.
func NpcInfoFrom(n *character.Npc) NpcInfo {
	return NpcInfo{
		Username:      n.Username,
		ModelID:       n.ModelID,
		SpawnPosition: Vec3From(n.SpawnPosition),
		SpawnRotation: QuatFrom(n.SpawnOrientation),
		Dialog:        DialogInfo{Messages: n.Dialog.Lines()},
	}
}

func npcInfos(npcs []*character.Npc) []NpcInfo {
	out := make([]NpcInfo, len(npcs))
	for i, n := range npcs {
		out[i] = NpcInfoFrom(n)
	}
	return out
}

// SceneInfoFrom converts a scene's static data.
func SceneInfoFrom(s *scene.Scene) SceneInfo {
	settings := SceneSettings{
		Floor: FloorInfo{Color: s.Settings.Floor.Color, TextureID: s.Settings.Floor.TextureID},
	}
	if env := s.Settings.Environment; env != nil {
		objs := make([]PhysicsObjectInfo, len(env.PhysicsObjects))
		for i, po := range env.PhysicsObjects {
			objs[i] = PhysicsObjectInfo{Name: po.Name, Shape: string(po.Shape)}
		}
		settings.Environment = &EnvironmentInfo{
			ModelPrefix:    EnvironmentModelPrefix,
			ModelID:        env.ModelID,
			SpawnScale:     Vec3From(env.SpawnScale),
			SpawnPosition:  Vec3From(env.SpawnPosition),
			SpawnRotation:  QuatFrom(env.SpawnRotation),
			PhysicsObjects: objs,
		}
	}
	return SceneInfo{
		SceneKey: s.Key,
		Settings: settings,
		NPCs:     npcInfos(s.NPCs()),
	}
}

// InitFrom builds the init payload for connID.
func InitFrom(connID, currentScene string, r *scene.Registry) Init {
	scenes := r.Scenes()
	infos := make([]SceneInfo, len(scenes))
	for i, s := range scenes {
		infos[i] = SceneInfoFrom(s)
	}
	return Init{ID: connID, CurrentSceneKey: currentScene, Scenes: infos}
}

// SceneStateFrom converts a scene snapshot.
func SceneStateFrom(st scene.State) SceneState {
	out := SceneState{
		SceneKey: st.SceneKey,
		NPCs:     npcInfos(st.NPCs),
		Visitors: make([]PlayerInfo, len(st.Visitors)),
	}
	if st.Current != nil {
		cur := PlayerInfoFrom(st.Current, false)
		out.CurrentPlayer = &cur
	}
	for i, v := range st.Visitors {
		out.Visitors[i] = PlayerInfoFrom(v, false)
	}
	return out
}

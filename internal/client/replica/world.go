// Package replica mirrors the server's view of the active scene on a client.
// It applies inbound relay events, runs a locomotion controller for every
// avatar and NPC, and produces the local player's outbound movement update.
//
// A World is driven by a single tick loop and is not safe for concurrent use.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/cory-johannsen/scenerelay/internal/client/animation"
	"github.com/cory-johannsen/scenerelay/internal/client/input"
	"github.com/cory-johannsen/scenerelay/internal/client/locomotion"
	"github.com/cory-johannsen/scenerelay/internal/client/modelcache"
	"github.com/cory-johannsen/scenerelay/internal/client/tween"
	"github.com/cory-johannsen/scenerelay/internal/game/character"
	"github.com/cory-johannsen/scenerelay/internal/protocol"
)

// Spawn and despawn tween length in seconds.
const SpawnDuration = 1.0

var (
	// ErrUnknownNPC is returned for an NPC index outside the active scene.
	ErrUnknownNPC = errors.New("no such npc")
	// ErrAlreadyTalking is returned when dialog is requested from a talking NPC.
	ErrAlreadyTalking = errors.New("npc is already talking")
	// ErrUnknownEmote is returned for an animation outside the emote set.
	ErrUnknownEmote = errors.New("unknown emote")
)

// Avatar is a player present in the active scene.
type Avatar struct {
	Player     *character.Player
	Instance   *modelcache.Instance
	Controller *locomotion.Controller
}

// NpcAvatar is an NPC present in the active scene.
type NpcAvatar struct {
	Npc        *character.Npc
	Instance   *modelcache.Instance
	Controller *locomotion.Controller
}

// Message is one received chat message.
type Message struct {
	SenderID   string
	SenderName string
	Text       string
}

// Effect is a one-shot visual effect triggered by another player.
type Effect struct {
	Kind   string
	UserID string
}

// Outbound is an event the client must send to the server.
type Outbound struct {
	Event   string
	Payload any
}

// World is the client-side mirror of one scene.
type World struct {
	cache  *modelcache.Cache
	logger *zap.Logger
	tweens *tween.Manager

	selfID   string
	username string
	catalog  map[string]protocol.SceneInfo
	scenes   []string
	sceneKey string

	environment *modelcache.Instance
	self        *Avatar
	visitors    map[string]*Avatar
	npcs        []*NpcAvatar
	leaving     map[*modelcache.Node]struct{}

	cameraForward mgl64.Vec3
	camera        locomotion.CameraRig

	inbox    []Message
	effects  []Effect
	outbound []Outbound
	failure  string
}

// New creates an empty World that loads models through cache.
//
// Precondition: cache and logger must be non-nil.
func New(cache *modelcache.Cache, logger *zap.Logger) *World {
	return &World{
		cache:         cache,
		logger:        logger,
		tweens:        tween.NewManager(),
		catalog:       make(map[string]protocol.SceneInfo),
		visitors:      make(map[string]*Avatar),
		leaving:       make(map[*modelcache.Node]struct{}),
		cameraForward: mgl64.Vec3{0, 0, -1},
	}
}

// SetCameraForward sets the view direction used for camera-relative movement.
func (w *World) SetCameraForward(v mgl64.Vec3) { w.cameraForward = v }

// AttachCamera makes rig follow the local player.
func (w *World) AttachCamera(rig locomotion.CameraRig) {
	w.camera = rig
	if w.self != nil {
		w.self.Controller.AttachCamera(rig)
	}
}

// SelfID returns the connection id assigned by the server.
func (w *World) SelfID() string { return w.selfID }

// SceneKey returns the active scene.
func (w *World) SceneKey() string { return w.sceneKey }

// SceneKeys returns the catalog keys in server order.
func (w *World) SceneKeys() []string {
	out := make([]string, len(w.scenes))
	copy(out, w.scenes)
	return out
}

// Self returns the local avatar, or nil.
func (w *World) Self() *Avatar { return w.self }

// Environment returns the active scene's environment model, or nil.
func (w *World) Environment() *modelcache.Instance { return w.environment }

// Visitor returns a remote avatar by connection id.
func (w *World) Visitor(id string) (*Avatar, bool) {
	a, ok := w.visitors[id]
	return a, ok
}

// VisitorIDs returns the remote avatar ids, sorted.
func (w *World) VisitorIDs() []string {
	ids := make([]string, 0, len(w.visitors))
	for id := range w.visitors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NPCs returns the NPCs of the active scene in catalog order.
func (w *World) NPCs() []*NpcAvatar {
	out := make([]*NpcAvatar, len(w.npcs))
	copy(out, w.npcs)
	return out
}

// Leaving returns the number of models still shrinking after a despawn.
func (w *World) Leaving() int { return len(w.leaving) }

// Inbox returns received chat messages in arrival order.
func (w *World) Inbox() []Message {
	out := make([]Message, len(w.inbox))
	copy(out, w.inbox)
	return out
}

// TakeEffects returns and clears pending effects.
func (w *World) TakeEffects() []Effect {
	out := w.effects
	w.effects = nil
	return out
}

// TakeOutbound returns and clears the events queued for the server.
func (w *World) TakeOutbound() []Outbound {
	out := w.outbound
	w.outbound = nil
	return out
}

// Failure returns the message of the last failed event, or "".
func (w *World) Failure() string { return w.failure }

func (w *World) emit(event string, payload any) {
	w.outbound = append(w.outbound, Outbound{Event: event, Payload: payload})
}

// Handle applies one server event.
//
// Postcondition: Returns an error only for undecodable payloads. Model load
// failures are logged and the affected character is skipped.
func (w *World) Handle(ctx context.Context, env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventInit:
		var m protocol.Init
		if err := env.DecodeData(&m); err != nil {
			return err
		}
		w.applyInit(ctx, m)
	case protocol.EventPlayerJoined:
		var m protocol.PlayerInfo
		if err := env.DecodeData(&m); err != nil {
			return err
		}
		w.applyJoined(ctx, m)
	case protocol.EventSceneState:
		var m protocol.SceneState
		if err := env.DecodeData(&m); err != nil {
			return err
		}
		w.applySceneState(ctx, m)
	case protocol.EventPlayerLeft:
		var m protocol.PlayerLeft
		if err := env.DecodeData(&m); err != nil {
			return err
		}
		w.applyLeft(m.ID)
	case protocol.EventClientUpdatePlayer:
		var m protocol.ClientUpdatePlayer
		if err := env.DecodeData(&m); err != nil {
			return err
		}
		w.applyUpdate(m)
	case protocol.EventTriggerEmote:
		var m protocol.TriggerEmote
		if err := env.DecodeData(&m); err != nil {
			return err
		}
		w.applyEmote(m)
	case protocol.EventFart:
		var m protocol.Fart
		if err := env.DecodeData(&m); err != nil {
			return err
		}
		w.effects = append(w.effects, Effect{Kind: protocol.EventFart, UserID: m.UserID})
	case protocol.EventSendMessage:
		var m protocol.SendMessageDelivery
		if err := env.DecodeData(&m); err != nil {
			return err
		}
		name := ""
		if v, ok := w.visitors[m.SenderUserID]; ok {
			name = v.Player.Username
		}
		w.inbox = append(w.inbox, Message{SenderID: m.SenderUserID, SenderName: name, Text: m.Message})
	case protocol.EventFailed:
		var m protocol.Failed
		if err := env.DecodeData(&m); err != nil {
			return err
		}
		w.failure = m.Message
		w.logger.Warn("server rejected request", zap.String("message", m.Message))
	default:
		w.logger.Debug("ignoring unknown event", zap.String("event", env.Event))
	}
	return nil
}

func (w *World) applyInit(ctx context.Context, m protocol.Init) {
	w.selfID = m.ID
	w.catalog = make(map[string]protocol.SceneInfo, len(m.Scenes))
	w.scenes = w.scenes[:0]
	for _, s := range m.Scenes {
		w.catalog[s.SceneKey] = s
		w.scenes = append(w.scenes, s.SceneKey)
	}
	w.loadScene(ctx, m.CurrentSceneKey)
	// ask for the snapshot; the server answers a join of the current scene
	// with scene-state
	w.emit(protocol.EventJoinScene, protocol.JoinScene{SceneKey: m.CurrentSceneKey})
}

func (w *World) applyJoined(ctx context.Context, m protocol.PlayerInfo) {
	if m.SceneKey != "" && m.SceneKey != w.sceneKey {
		if m.ID != w.selfID {
			return
		}
		w.loadScene(ctx, m.SceneKey)
	}
	if m.ID == w.selfID {
		if w.self == nil {
			w.self = w.spawnPlayer(ctx, m, true)
		}
		return
	}
	if _, ok := w.visitors[m.ID]; ok {
		return
	}
	if a := w.spawnPlayer(ctx, m, false); a != nil {
		w.visitors[m.ID] = a
	}
}

func (w *World) applySceneState(ctx context.Context, m protocol.SceneState) {
	if m.SceneKey != w.sceneKey {
		w.loadScene(ctx, m.SceneKey)
	}
	if len(w.npcs) == 0 {
		w.spawnNPCs(ctx, m.NPCs)
	}
	if m.CurrentPlayer != nil && w.self == nil && m.CurrentPlayer.ID == w.selfID {
		w.self = w.spawnPlayer(ctx, *m.CurrentPlayer, true)
	}
	for _, v := range m.Visitors {
		if v.ID == w.selfID {
			continue
		}
		if _, ok := w.visitors[v.ID]; ok {
			continue
		}
		if a := w.spawnPlayer(ctx, v, false); a != nil {
			w.visitors[v.ID] = a
		}
	}
}

func (w *World) applyLeft(id string) {
	if id == w.selfID {
		if w.self != nil {
			w.despawn(w.self.Instance)
			w.self = nil
		}
		return
	}
	if a, ok := w.visitors[id]; ok {
		delete(w.visitors, id)
		w.despawn(a.Instance)
	}
}

func (w *World) applyUpdate(m protocol.ClientUpdatePlayer) {
	if m.SceneKey != "" && m.SceneKey != w.sceneKey {
		return
	}
	a, ok := w.visitors[m.VisitorID]
	if !ok {
		return
	}
	if err := m.Validate(); err != nil {
		w.logger.Debug("dropping malformed update", zap.String("visitor", m.VisitorID), zap.Error(err))
		return
	}
	a.Controller.Update(m.Delta, input.FromMap(m.KeysPressed), w.cameraForward)
	if err := a.Player.SetTransform(m.SpawnPosition.Mgl(), m.SpawnRotation.Mgl()); err != nil {
		w.logger.Debug("dropping update transform", zap.String("visitor", m.VisitorID), zap.Error(err))
	}
	syncInstance(a.Instance, &a.Player.Character)
}

func (w *World) applyEmote(m protocol.TriggerEmote) {
	name, ok := animation.ParseClipName(m.AnimationName)
	if !ok || !name.IsEmote() {
		return
	}
	if a, ok := w.visitors[m.AvatarUserID]; ok {
		a.Controller.PlayOverride(name)
	}
}

// loadScene discards everything from the previous scene and spawns the
// environment and NPCs of key from the catalog.
func (w *World) loadScene(ctx context.Context, key string) {
	for id, a := range w.visitors {
		w.tweens.Kill(a.Instance.Root)
		delete(w.visitors, id)
	}
	for _, n := range w.npcs {
		w.tweens.Kill(n.Instance.Root)
	}
	w.npcs = nil
	if w.self != nil {
		w.tweens.Kill(w.self.Instance.Root)
		w.self = nil
	}
	for node := range w.leaving {
		w.tweens.Kill(node)
		delete(w.leaving, node)
	}
	w.environment = nil
	w.sceneKey = key

	info, ok := w.catalog[key]
	if !ok {
		w.logger.Warn("scene missing from catalog", zap.String("scene", key))
		return
	}
	if env := info.Settings.Environment; env != nil {
		inst, err := w.cache.Get(ctx, modelcache.Key{Category: modelcache.CategoryEnvironment, ModelID: env.ModelID}, modelcache.Transform{
			Position:    env.SpawnPosition.Mgl(),
			Orientation: env.SpawnRotation.Mgl(),
			Scale:       env.SpawnScale.Mgl(),
		})
		if err != nil {
			w.logger.Error("loading environment", zap.String("scene", key), zap.Error(err))
		} else {
			w.environment = inst
		}
	}
	w.spawnNPCs(ctx, info.NPCs)
}

func (w *World) spawnNPCs(ctx context.Context, infos []protocol.NpcInfo) {
	for _, n := range infos {
		rot, err := character.NormalizeOrientation(n.SpawnRotation.Mgl())
		if err != nil {
			rot = mgl64.QuatIdent()
		}
		npc := &character.Npc{
			Character: character.Character{
				Username:    n.Username,
				ModelID:     n.ModelID,
				Position:    n.SpawnPosition.Mgl(),
				Orientation: rot,
			},
			Dialog:           character.NewDialog(n.Dialog.Messages...),
			SpawnPosition:    n.SpawnPosition.Mgl(),
			SpawnOrientation: rot,
		}
		inst, err := w.spawnModel(ctx, modelcache.CategoryNPC, &npc.Character)
		if err != nil {
			w.logger.Error("loading npc model", zap.String("npc", n.Username), zap.Error(err))
			continue
		}
		w.npcs = append(w.npcs, &NpcAvatar{
			Npc:        npc,
			Instance:   inst,
			Controller: locomotion.New(&npc.Character, inst.Mixer),
		})
	}
}

func (w *World) spawnPlayer(ctx context.Context, m protocol.PlayerInfo, self bool) *Avatar {
	rot, err := character.NormalizeOrientation(m.SpawnRotation.Mgl())
	if err != nil {
		rot = mgl64.QuatIdent()
	}
	p := &character.Player{
		Character: character.Character{
			Username:    m.Username,
			ModelID:     m.ModelID,
			Position:    m.SpawnPosition.Mgl(),
			Orientation: rot,
		},
		ConnectionID:          m.ID,
		SceneKey:              w.sceneKey,
		IsCurrentlyControlled: self,
	}
	inst, err := w.spawnModel(ctx, modelcache.CategoryPlayer, &p.Character)
	if err != nil {
		w.logger.Error("loading player model",
			zap.String("player", m.ID),
			zap.Int("model_id", m.ModelID),
			zap.Error(err),
		)
		return nil
	}
	a := &Avatar{Player: p, Instance: inst, Controller: locomotion.New(&p.Character, inst.Mixer)}
	if self && w.camera != nil {
		a.Controller.AttachCamera(w.camera)
		w.camera.SetGroundPosition(p.Position.X(), p.Position.Z())
	}
	return a
}

// spawnModel clones the model for c and grows it from nothing.
func (w *World) spawnModel(ctx context.Context, cat modelcache.Category, c *character.Character) (*modelcache.Instance, error) {
	inst, err := w.cache.Get(ctx, modelcache.Key{Category: cat, ModelID: c.ModelID}, modelcache.Transform{
		Position:    c.Position,
		Orientation: c.Orientation,
	})
	if err != nil {
		return nil, err
	}
	w.tweens.Scale(inst.Root, 0, 1, SpawnDuration, tween.BackOut, nil)
	return inst, nil
}

// despawn shrinks inst and forgets it once the tween completes.
func (w *World) despawn(inst *modelcache.Instance) {
	node := inst.Root
	w.leaving[node] = struct{}{}
	w.tweens.Scale(node, node.Scale.X(), 0, SpawnDuration, tween.BackOut, func() {
		delete(w.leaving, node)
	})
}

func syncInstance(inst *modelcache.Instance, c *character.Character) {
	inst.Root.Position = c.Position
	inst.Root.Orientation = c.Orientation
}

// Tick advances tweens, NPCs and the local player by dt seconds.
//
// Postcondition: Returns the movement update for the local player, or nil
// when the player has no avatar yet.
func (w *World) Tick(dt float64, keys input.KeySet) *protocol.ClientUpdatePlayer {
	w.tweens.Update(dt)

	for _, n := range w.npcs {
		n.Controller.Update(dt, input.Of(), w.cameraForward)
		if n.Npc.IsTalking && !n.Controller.Overriding() {
			n.Npc.IsTalking = false
		}
		syncInstance(n.Instance, &n.Npc.Character)
	}

	if w.self == nil {
		return nil
	}
	body := &w.self.Player.Character
	w.self.Controller.Update(dt, keys, w.cameraForward)
	syncInstance(w.self.Instance, body)

	pos := protocol.Vec3From(body.Position)
	rot := protocol.QuatFrom(body.Orientation)
	return &protocol.ClientUpdatePlayer{
		VisitorID:     w.selfID,
		Delta:         dt,
		KeysPressed:   keys.ToMap(),
		SceneKey:      w.sceneKey,
		SpawnPosition: &pos,
		SpawnRotation: &rot,
	}
}

// StartDialog makes the NPC at index talk.
//
// Postcondition: Returns the NPC's dialog lines, ErrAlreadyTalking while
// the previous conversation is still animating, or ErrUnknownNPC.
func (w *World) StartDialog(index int) ([]string, error) {
	if index < 0 || index >= len(w.npcs) {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownNPC, index)
	}
	n := w.npcs[index]
	if n.Npc.IsTalking {
		return nil, ErrAlreadyTalking
	}
	n.Controller.PlayOverride(animation.Talking)
	n.Npc.IsTalking = n.Controller.Overriding()
	return n.Npc.Dialog.Lines(), nil
}

// JoinScene queues a scene switch.
func (w *World) JoinScene(key string) {
	w.emit(protocol.EventJoinScene, protocol.JoinScene{SceneKey: key})
}

// SendMessage queues a chat message to another player.
func (w *World) SendMessage(receiverID, text string) {
	w.emit(protocol.EventSendMessage, protocol.SendMessageRequest{ReceiverUserID: receiverID, Message: text})
}

// TriggerEmote plays an emote on the local avatar and queues it for the scene.
func (w *World) TriggerEmote(name animation.Name) error {
	if !name.IsEmote() {
		return fmt.Errorf("%w: %s", ErrUnknownEmote, name)
	}
	if w.self != nil {
		w.self.Controller.PlayOverride(name)
	}
	w.emit(protocol.EventTriggerEmote, protocol.TriggerEmote{
		SceneKey:      w.sceneKey,
		AnimationName: name.ClipName(),
		AvatarUserID:  w.selfID,
	})
	return nil
}

// Fart queues the particle effect for the local avatar.
func (w *World) Fart() {
	w.emit(protocol.EventFart, protocol.Fart{SceneKey: w.sceneKey, UserID: w.selfID})
}

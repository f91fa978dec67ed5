package replica_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/scenerelay/internal/client/animation"
	"github.com/cory-johannsen/scenerelay/internal/client/input"
	"github.com/cory-johannsen/scenerelay/internal/client/modelcache"
	"github.com/cory-johannsen/scenerelay/internal/client/replica"
	"github.com/cory-johannsen/scenerelay/internal/protocol"
)

var allClips = []animation.Clip{
	{Name: "Happy Idle", Duration: 2},
	{Name: "Walking", Duration: 1},
	{Name: "Running", Duration: 0.8},
	{Name: "Running Jump", Duration: 1.2},
	{Name: "Talking", Duration: 3},
	{Name: "Dancing", Duration: 4},
	{Name: "TPose", Duration: 0.1},
}

// brokenModel is a player model id the stub loader refuses.
const brokenModel = 9

func newWorld(t *testing.T) *replica.World {
	t.Helper()
	loader := modelcache.LoaderFunc(func(_ context.Context, key modelcache.Key) (modelcache.Asset, error) {
		if key.Category == modelcache.CategoryPlayer && key.ModelID == brokenModel {
			return modelcache.Asset{}, errors.New("missing file")
		}
		return modelcache.Asset{
			Root:  &modelcache.Node{Name: key.String(), Scale: mgl64.Vec3{1, 1, 1}},
			Clips: allClips,
		}, nil
	})
	return replica.New(modelcache.New(loader, zaptest.NewLogger(t)), zaptest.NewLogger(t))
}

func envelope(t *testing.T, event string, payload any) protocol.Envelope {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	return env
}

func handle(t *testing.T, w *replica.World, event string, payload any) {
	t.Helper()
	require.NoError(t, w.Handle(context.Background(), envelope(t, event, payload)))
}

func catalog() protocol.Init {
	return protocol.Init{
		ID:              "me",
		CurrentSceneKey: "plaza",
		Scenes: []protocol.SceneInfo{
			{
				SceneKey: "plaza",
				Settings: protocol.SceneSettings{
					Environment: &protocol.EnvironmentInfo{
						ModelID:       1,
						SpawnScale:    protocol.Vec3{2, 2, 2},
						SpawnRotation: protocol.Quat{0, 0, 0, 1},
					},
				},
				NPCs: []protocol.NpcInfo{{
					Username:      "Guide",
					ModelID:       1,
					SpawnPosition: protocol.Vec3{3, 0, 3},
					SpawnRotation: protocol.Quat{0, 0, 0, 1},
					Dialog:        protocol.DialogInfo{Messages: []string{"Hello", "Welcome"}},
				}},
			},
			{SceneKey: "camp"},
		},
	}
}

func player(id, name string, modelID int) protocol.PlayerInfo {
	return protocol.PlayerInfo{
		ID:            id,
		Username:      name,
		ModelID:       modelID,
		SpawnPosition: protocol.Vec3{0, 0.05, 0},
		SpawnRotation: protocol.Quat{0, 0, 0, 1},
	}
}

// joined returns a world that has received init and its own player:joined.
func joined(t *testing.T) *replica.World {
	t.Helper()
	w := newWorld(t)
	handle(t, w, protocol.EventInit, catalog())
	handle(t, w, protocol.EventPlayerJoined, player("me", "alice", 1))
	return w
}

func TestInit_LoadsSceneAndRequestsSnapshot(t *testing.T) {
	w := newWorld(t)
	handle(t, w, protocol.EventInit, catalog())

	assert.Equal(t, "me", w.SelfID())
	assert.Equal(t, "plaza", w.SceneKey())
	assert.Equal(t, []string{"plaza", "camp"}, w.SceneKeys())
	require.NotNil(t, w.Environment())
	assert.Equal(t, mgl64.Vec3{2, 2, 2}, w.Environment().Root.Scale)
	assert.Equal(t, modelcache.CategoryEnvironment, w.Environment().Root.Category)

	npcs := w.NPCs()
	require.Len(t, npcs, 1)
	assert.Equal(t, "Guide", npcs[0].Npc.Username)
	assert.Equal(t, mgl64.Vec3{3, 0, 3}, npcs[0].Instance.Root.Position)
	assert.Nil(t, w.Self())

	out := w.TakeOutbound()
	require.Len(t, out, 1)
	assert.Equal(t, protocol.EventJoinScene, out[0].Event)
	assert.Equal(t, protocol.JoinScene{SceneKey: "plaza"}, out[0].Payload)
	assert.Empty(t, w.TakeOutbound())
}

func TestSelfJoined_SpawnsWithGrowTween(t *testing.T) {
	w := joined(t)
	self := w.Self()
	require.NotNil(t, self)
	assert.True(t, self.Player.IsCurrentlyControlled)
	assert.Equal(t, mgl64.Vec3{}, self.Instance.Root.Scale)

	w.Tick(replica.SpawnDuration/2, input.Of())
	assert.Greater(t, self.Instance.Root.Scale.X(), 0.5)
	w.Tick(replica.SpawnDuration, input.Of())
	assert.InDelta(t, 1, self.Instance.Root.Scale.X(), 1e-9)
}

func TestSceneState_SpawnsVisitorsOnce(t *testing.T) {
	w := joined(t)
	me := player("me", "alice", 1)
	state := protocol.SceneState{
		SceneKey:      "plaza",
		CurrentPlayer: &me,
		Visitors:      []protocol.PlayerInfo{player("v1", "bob", 2), player("v2", "carol", 1)},
	}
	handle(t, w, protocol.EventSceneState, state)
	handle(t, w, protocol.EventSceneState, state)
	handle(t, w, protocol.EventPlayerJoined, player("v1", "bob", 2))

	assert.Equal(t, []string{"v1", "v2"}, w.VisitorIDs())
	v1, ok := w.Visitor("v1")
	require.True(t, ok)
	assert.Equal(t, "bob", v1.Player.Username)
	assert.False(t, v1.Player.IsCurrentlyControlled)
	assert.Len(t, w.NPCs(), 1)
}

func TestVisitorModelLoadFailureIsSkipped(t *testing.T) {
	w := joined(t)
	handle(t, w, protocol.EventPlayerJoined, player("v1", "bob", brokenModel))
	handle(t, w, protocol.EventPlayerJoined, player("v2", "carol", 2))
	assert.Equal(t, []string{"v2"}, w.VisitorIDs())
}

func TestRemoteUpdate_AnimatesThenSnapsTransform(t *testing.T) {
	w := joined(t)
	handle(t, w, protocol.EventPlayerJoined, player("v1", "bob", 2))

	pos := protocol.Vec3{4, 0.05, -2}
	rot := protocol.Quat{0, 1, 0, 0}
	handle(t, w, protocol.EventClientUpdatePlayer, protocol.ClientUpdatePlayer{
		VisitorID:     "v1",
		Delta:         0.016,
		KeysPressed:   input.Of(input.KeyW).ToMap(),
		SceneKey:      "plaza",
		SpawnPosition: &pos,
		SpawnRotation: &rot,
	})

	v1, _ := w.Visitor("v1")
	assert.Equal(t, animation.Walking, v1.Controller.State())
	assert.Equal(t, mgl64.Vec3{4, 0.05, -2}, v1.Player.Position)
	assert.Equal(t, v1.Player.Position, v1.Instance.Root.Position)
	assert.InDelta(t, 1, v1.Player.Orientation.V.Y(), 1e-9)
}

func TestRemoteUpdate_IgnoredWhenUnknownOrMalformed(t *testing.T) {
	w := joined(t)
	handle(t, w, protocol.EventPlayerJoined, player("v1", "bob", 2))

	pos := protocol.Vec3{9, 9, 9}
	handle(t, w, protocol.EventClientUpdatePlayer, protocol.ClientUpdatePlayer{VisitorID: "v1", SpawnPosition: &pos})
	handle(t, w, protocol.EventClientUpdatePlayer, protocol.ClientUpdatePlayer{VisitorID: "ghost"})

	v1, _ := w.Visitor("v1")
	assert.Equal(t, mgl64.Vec3{0, 0.05, 0}, v1.Player.Position)
}

func TestPlayerLeft_ShrinksThenForgets(t *testing.T) {
	w := joined(t)
	handle(t, w, protocol.EventPlayerJoined, player("v1", "bob", 2))
	w.Tick(replica.SpawnDuration, input.Of())

	handle(t, w, protocol.EventPlayerLeft, protocol.PlayerLeft{ID: "v1"})
	assert.Empty(t, w.VisitorIDs())
	assert.Equal(t, 1, w.Leaving())

	w.Tick(replica.SpawnDuration+0.1, input.Of())
	assert.Equal(t, 0, w.Leaving())
}

func TestPlayerLeft_SelfClearsAvatar(t *testing.T) {
	w := joined(t)
	handle(t, w, protocol.EventPlayerLeft, protocol.PlayerLeft{ID: "me"})
	assert.Nil(t, w.Self())
	assert.Nil(t, w.Tick(0.1, input.Of(input.KeyW)))
}

func TestSelfJoinedOtherScene_ReloadsScene(t *testing.T) {
	w := joined(t)
	handle(t, w, protocol.EventPlayerJoined, player("v1", "bob", 2))

	moved := player("me", "alice", 1)
	moved.SpawnPosition = protocol.Vec3{}
	moved.SceneKey = "camp"
	handle(t, w, protocol.EventPlayerJoined, moved)

	assert.Equal(t, "camp", w.SceneKey())
	assert.Empty(t, w.VisitorIDs())
	assert.Empty(t, w.NPCs())
	assert.Nil(t, w.Environment())
	require.NotNil(t, w.Self())
	assert.Equal(t, "camp", w.Self().Player.SceneKey)

	other := player("v3", "dan", 1)
	other.SceneKey = "plaza"
	handle(t, w, protocol.EventPlayerJoined, other)
	assert.Empty(t, w.VisitorIDs())
}

func TestEmotes(t *testing.T) {
	w := joined(t)
	handle(t, w, protocol.EventPlayerJoined, player("v1", "bob", 2))

	handle(t, w, protocol.EventTriggerEmote, protocol.TriggerEmote{SceneKey: "plaza", AnimationName: "Walking", AvatarUserID: "v1"})
	v1, _ := w.Visitor("v1")
	assert.False(t, v1.Controller.Overriding())

	handle(t, w, protocol.EventTriggerEmote, protocol.TriggerEmote{SceneKey: "plaza", AnimationName: "Dancing", AvatarUserID: "v1"})
	assert.True(t, v1.Controller.Overriding())
	assert.Equal(t, animation.Dancing, v1.Controller.State())

	w.TakeOutbound()
	require.NoError(t, w.TriggerEmote(animation.Dancing))
	assert.True(t, w.Self().Controller.Overriding())
	out := w.TakeOutbound()
	require.Len(t, out, 1)
	assert.Equal(t, protocol.TriggerEmote{SceneKey: "plaza", AnimationName: "Dancing", AvatarUserID: "me"}, out[0].Payload)

	assert.ErrorIs(t, w.TriggerEmote(animation.Running), replica.ErrUnknownEmote)
	assert.Empty(t, w.TakeOutbound())
}

func TestMessagesEffectsAndFailures(t *testing.T) {
	w := joined(t)
	handle(t, w, protocol.EventPlayerJoined, player("v1", "bob", 2))

	handle(t, w, protocol.EventSendMessage, protocol.SendMessageDelivery{SenderUserID: "v1", Message: "hi"})
	handle(t, w, protocol.EventSendMessage, protocol.SendMessageDelivery{SenderUserID: "gone", Message: "boo"})
	assert.Equal(t, []replica.Message{
		{SenderID: "v1", SenderName: "bob", Text: "hi"},
		{SenderID: "gone", Text: "boo"},
	}, w.Inbox())

	handle(t, w, protocol.EventFart, protocol.Fart{SceneKey: "plaza", UserID: "v1"})
	assert.Equal(t, []replica.Effect{{Kind: protocol.EventFart, UserID: "v1"}}, w.TakeEffects())
	assert.Empty(t, w.TakeEffects())

	handle(t, w, protocol.EventFailed, protocol.Failed{Message: "Invalid scene"})
	assert.Equal(t, "Invalid scene", w.Failure())

	handle(t, w, "mystery", map[string]int{"x": 1})
}

func TestHandle_UndecodablePayload(t *testing.T) {
	w := newWorld(t)
	env, err := protocol.Decode([]byte(`{"event":"init","data":"nope"}`))
	require.NoError(t, err)
	assert.Error(t, w.Handle(context.Background(), env))
}

func TestTick_ReportsLocalMovement(t *testing.T) {
	w := joined(t)
	w.SetCameraForward(mgl64.Vec3{0, -0.5, -1})

	up := w.Tick(0.5, input.Of(input.KeyW))
	require.NotNil(t, up)
	assert.Equal(t, "me", up.VisitorID)
	assert.Equal(t, "plaza", up.SceneKey)
	assert.Equal(t, 0.5, up.Delta)
	assert.True(t, up.KeysPressed[input.KeyW.String()])
	require.NotNil(t, up.SpawnPosition)
	require.NotNil(t, up.SpawnRotation)
	assert.Less(t, up.SpawnPosition[2], 0.0)
	assert.InDelta(t, 0.05, up.SpawnPosition[1], 1e-9)
	assert.NoError(t, up.Validate())

	assert.Equal(t, w.Self().Player.Position, w.Self().Instance.Root.Position)
}

type rig struct{ x, z float64 }

func (r *rig) SetGroundPosition(x, z float64) { r.x, r.z = x, z }

func TestAttachCamera_FollowsSelf(t *testing.T) {
	w := newWorld(t)
	r := &rig{x: 99, z: 99}
	w.AttachCamera(r)
	handle(t, w, protocol.EventInit, catalog())
	handle(t, w, protocol.EventPlayerJoined, player("me", "alice", 1))
	assert.Equal(t, 0.0, r.x)

	w.Tick(1, input.Of(input.KeyW))
	assert.Less(t, r.z, 0.0)
}

func TestStartDialog(t *testing.T) {
	w := joined(t)

	lines, err := w.StartDialog(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", "Welcome"}, lines)
	npc := w.NPCs()[0]
	assert.True(t, npc.Npc.IsTalking)
	assert.Equal(t, animation.Talking, npc.Controller.State())

	_, err = w.StartDialog(0)
	assert.ErrorIs(t, err, replica.ErrAlreadyTalking)
	_, err = w.StartDialog(5)
	assert.ErrorIs(t, err, replica.ErrUnknownNPC)

	// Talking lasts 3s and clears at 95%.
	w.Tick(3, input.Of())
	assert.False(t, npc.Npc.IsTalking)
	_, err = w.StartDialog(0)
	assert.NoError(t, err)
}

func TestOutboundRequests(t *testing.T) {
	w := joined(t)
	w.TakeOutbound()

	w.JoinScene("camp")
	w.SendMessage("v1", "hey")
	w.Fart()
	assert.Equal(t, []replica.Outbound{
		{Event: protocol.EventJoinScene, Payload: protocol.JoinScene{SceneKey: "camp"}},
		{Event: protocol.EventSendMessage, Payload: protocol.SendMessageRequest{ReceiverUserID: "v1", Message: "hey"}},
		{Event: protocol.EventFart, Payload: protocol.Fart{SceneKey: "plaza", UserID: "me"}},
	}, w.TakeOutbound())
}

package scene_test

import (
	"fmt"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/scenerelay/internal/game/character"
	"github.com/cory-johannsen/scenerelay/internal/game/scene"
)

func newRegistry(t testing.TB, keys ...string) *scene.Registry {
	t.Helper()
	scenes := make([]*scene.Scene, len(keys))
	for i, k := range keys {
		npc := character.NewNpc("NPC "+k, 1, mgl64.Vec3{}, 0, character.NewDialog("hello"))
		scenes[i] = scene.NewScene(k, scene.Settings{}, []*character.Npc{npc})
	}
	r, err := scene.NewRegistry("", scenes...)
	require.NoError(t, err)
	return r
}

func TestNewRegistry_DefaultIsFirst(t *testing.T) {
	r := newRegistry(t, "a", "b", "c")
	assert.Equal(t, "a", r.Default().Key)
	assert.Equal(t, []string{"a", "b", "c"}, r.Keys())
}

func TestNewRegistry_ExplicitDefault(t *testing.T) {
	r, err := scene.NewRegistry("b",
		scene.NewScene("a", scene.Settings{}, nil),
		scene.NewScene("b", scene.Settings{}, nil),
	)
	require.NoError(t, err)
	assert.Equal(t, "b", r.Default().Key)
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := scene.NewRegistry("")
	assert.Error(t, err)

	_, err = scene.NewRegistry("", scene.NewScene("a", scene.Settings{}, nil), scene.NewScene("a", scene.Settings{}, nil))
	assert.Error(t, err)

	_, err = scene.NewRegistry("zzz", scene.NewScene("a", scene.Settings{}, nil))
	assert.ErrorIs(t, err, scene.ErrUnknownScene)
}

func TestScene_AddDuplicateRejected(t *testing.T) {
	s := scene.NewScene("a", scene.Settings{}, nil)
	p := character.NewPlayer("c1", "alice", 1, "")
	require.NoError(t, s.AddPlayer(p))
	assert.Equal(t, "a", p.SceneKey)
	assert.ErrorIs(t, s.AddPlayer(p), scene.ErrAlreadyPresent)
	assert.Equal(t, 1, s.Len())
}

func TestScene_RemoveAbsentIsNoop(t *testing.T) {
	s := scene.NewScene("a", scene.Settings{}, nil)
	_, ok := s.RemovePlayer("ghost")
	assert.False(t, ok)
}

func TestScene_StateForSplitsViewer(t *testing.T) {
	s := scene.NewScene("a", scene.Settings{}, []*character.Npc{
		character.NewNpc("n", 1, mgl64.Vec3{}, 0, character.NewDialog("x")),
	})
	for _, id := range []string{"c3", "c1", "c2"} {
		require.NoError(t, s.AddPlayer(character.NewPlayer(id, "u"+id, 1, "")))
	}
	st := s.StateFor("c2")
	require.NotNil(t, st.Current)
	assert.Equal(t, "c2", st.Current.ConnectionID)
	require.Len(t, st.Visitors, 2)
	assert.Equal(t, "c1", st.Visitors[0].ConnectionID)
	assert.Equal(t, "c3", st.Visitors[1].ConnectionID)
	assert.Len(t, st.NPCs, 1)

	outsider := s.StateFor("zz")
	assert.Nil(t, outsider.Current)
	assert.Len(t, outsider.Visitors, 3)
}

func TestRegistry_MoveUnknownLeavesStateUnchanged(t *testing.T) {
	r := newRegistry(t, "a", "b")
	p := character.NewPlayer("c1", "alice", 1, "")
	_, err := r.Move(p, "a")
	require.NoError(t, err)

	_, err = r.Move(p, "nope")
	assert.ErrorIs(t, err, scene.ErrUnknownScene)
	a, _ := r.Get("a")
	assert.True(t, a.Has("c1"))
	assert.Equal(t, "a", p.SceneKey)
}

func TestRegistry_MoveReturnsOrigin(t *testing.T) {
	r := newRegistry(t, "a", "b")
	p := character.NewPlayer("c1", "alice", 1, "")
	from, err := r.Move(p, "a")
	require.NoError(t, err)
	assert.Nil(t, from)

	from, err = r.Move(p, "b")
	require.NoError(t, err)
	require.NotNil(t, from)
	assert.Equal(t, "a", from.Key)
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, r.Occupancy())
}

func TestProperty_PlayerOccupiesExactlyOneScene(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := []string{"a", "b", "c"}
		r := newRegistry(t, keys...)
		nPlayers := rapid.IntRange(1, 6).Draw(t, "players")
		players := make([]*character.Player, nPlayers)
		for i := range players {
			players[i] = character.NewPlayer(fmt.Sprintf("c%d", i), "u", 1, "")
			if _, err := r.Move(players[i], r.Default().Key); err != nil {
				t.Fatalf("initial move: %v", err)
			}
		}

		steps := rapid.IntRange(0, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			p := players[rapid.IntRange(0, nPlayers-1).Draw(t, "who")]
			to := rapid.SampledFrom(append(keys, "bogus")).Draw(t, "to")
			_, _ = r.Move(p, to)
		}

		for _, p := range players {
			found := 0
			for _, s := range r.Scenes() {
				if s.Has(p.ConnectionID) {
					found++
					if s.Key != p.SceneKey {
						t.Fatalf("player %s in %s but SceneKey=%s", p.ConnectionID, s.Key, p.SceneKey)
					}
				}
			}
			if found != 1 {
				t.Fatalf("player %s present in %d scenes", p.ConnectionID, found)
			}
		}
		if r.PlayerCount() != nPlayers {
			t.Fatalf("PlayerCount=%d, want %d", r.PlayerCount(), nPlayers)
		}
	})
}

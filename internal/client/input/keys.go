// Package input models the closed set of movement keys a client reports.
package input

import "sort"

// Key is one tracked keyboard key.
type Key uint16

const (
	KeyW Key = 1 << iota
	KeyA
	KeyS
	KeyD
	ArrowUp
	ArrowLeft
	ArrowDown
	ArrowRight
	ShiftLeft
	Space
)

// keyCodes maps each key to the DOM KeyboardEvent.code used on the wire.
var keyCodes = map[Key]string{
	KeyW:       "KeyW",
	KeyA:       "KeyA",
	KeyS:       "KeyS",
	KeyD:       "KeyD",
	ArrowUp:    "ArrowUp",
	ArrowLeft:  "ArrowLeft",
	ArrowDown:  "ArrowDown",
	ArrowRight: "ArrowRight",
	ShiftLeft:  "ShiftLeft",
	Space:      "Space",
}

var codeKeys = func() map[string]Key {
	m := make(map[string]Key, len(keyCodes))
	for k, c := range keyCodes {
		m[c] = k
	}
	return m
}()

// String returns the wire code of k, or "" for an unknown key.
func (k Key) String() string {
	return keyCodes[k]
}

// ParseKey looks up a wire code.
func ParseKey(code string) (Key, bool) {
	k, ok := codeKeys[code]
	return k, ok
}

// AllKeys returns every tracked key in bit order.
func AllKeys() []Key {
	out := make([]Key, 0, len(keyCodes))
	for k := KeyW; k <= Space; k <<= 1 {
		out = append(out, k)
	}
	return out
}

// KeySet is an immutable snapshot of pressed keys.
type KeySet uint16

// Of builds a set from keys.
func Of(keys ...Key) KeySet {
	var s KeySet
	for _, k := range keys {
		s |= KeySet(k)
	}
	return s
}

// Has reports whether k is pressed.
func (s KeySet) Has(k Key) bool {
	return s&KeySet(k) != 0
}

// With returns s with k pressed.
func (s KeySet) With(k Key) KeySet {
	return s | KeySet(k)
}

// Without returns s with k released.
func (s KeySet) Without(k Key) KeySet {
	return s &^ KeySet(k)
}

// Forward reports W or ArrowUp.
func (s KeySet) Forward() bool { return s.Has(KeyW) || s.Has(ArrowUp) }

// Backward reports S or ArrowDown.
func (s KeySet) Backward() bool { return s.Has(KeyS) || s.Has(ArrowDown) }

// Left reports A or ArrowLeft.
func (s KeySet) Left() bool { return s.Has(KeyA) || s.Has(ArrowLeft) }

// Right reports D or ArrowRight.
func (s KeySet) Right() bool { return s.Has(KeyD) || s.Has(ArrowRight) }

// Run reports the run modifier.
func (s KeySet) Run() bool { return s.Has(ShiftLeft) }

// Jump reports the jump key.
func (s KeySet) Jump() bool { return s.Has(Space) }

// HasDirection reports whether any directional key is pressed.
func (s KeySet) HasDirection() bool {
	return s.Forward() || s.Backward() || s.Left() || s.Right()
}

// FromMap reads the keysPressed object of a movement update. Unknown codes
// and false entries are ignored.
func FromMap(m map[string]bool) KeySet {
	var s KeySet
	for code, pressed := range m {
		if !pressed {
			continue
		}
		if k, ok := codeKeys[code]; ok {
			s = s.With(k)
		}
	}
	return s
}

// ToMap renders the pressed keys for the wire.
func (s KeySet) ToMap() map[string]bool {
	m := make(map[string]bool)
	for _, k := range AllKeys() {
		if s.Has(k) {
			m[k.String()] = true
		}
	}
	return m
}

// Codes returns the pressed key codes sorted.
func (s KeySet) Codes() []string {
	var out []string
	for _, k := range AllKeys() {
		if s.Has(k) {
			out = append(out, k.String())
		}
	}
	sort.Strings(out)
	return out
}

// Package animation names the animation clips characters play and blends
// between them with a small weight mixer.
package animation

// Name is the closed set of animation states a character can be in.
type Name int

const (
	Idle Name = iota
	Walking
	Running
	RunningJump
	Jumping
	Talking
	Dancing
	SideKick
	Pain
	Taunting
	Fall
	Cheering
)

// TPoseClip is the bind-pose clip shipped with every model. It is never played.
const TPoseClip = "TPose"

// clipNames is the single mapping between states and asset clip names.
var clipNames = map[Name]string{
	Idle:        "Happy Idle",
	Walking:     "Walking",
	Running:     "Running",
	RunningJump: "Running Jump",
	Jumping:     "Jumping",
	Talking:     "Talking",
	Dancing:     "Dancing",
	SideKick:    "Side Kick",
	Pain:        "Pain",
	Taunting:    "Taunting",
	Fall:        "Fall",
	Cheering:    "Cheering",
}

var namesByClip = func() map[string]Name {
	m := make(map[string]Name, len(clipNames))
	for n, c := range clipNames {
		m[c] = n
	}
	return m
}()

// ClipName returns the asset clip name for n.
func (n Name) ClipName() string {
	return clipNames[n]
}

func (n Name) String() string {
	if c, ok := clipNames[n]; ok {
		return c
	}
	return "unknown"
}

// IsEmote reports whether n can be triggered as an emote.
func (n Name) IsEmote() bool {
	switch n {
	case Dancing, SideKick, Pain, Taunting, Fall, Cheering:
		return true
	}
	return false
}

// ParseClipName maps an asset clip name to its state. The T-pose and unknown
// clips report false.
func ParseClipName(clip string) (Name, bool) {
	n, ok := namesByClip[clip]
	return n, ok
}

// Emotes returns the emote states in declaration order.
func Emotes() []Name {
	return []Name{Dancing, SideKick, Pain, Taunting, Fall, Cheering}
}

package animation

import (
	"math"
	"sort"
)

// Clip is a named animation of fixed length in seconds.
type Clip struct {
	Name     string  `yaml:"name"`
	Duration float64 `yaml:"duration"`
}

// Action is the playback state of one clip on one mixer. Clips loop.
type Action struct {
	clip    Clip
	running bool
	time    float64
	weight  float64

	fading       bool
	fadeFrom     float64
	fadeTo       float64
	fadeElapsed  float64
	fadeDuration float64
}

// Clip returns the clip this action plays.
func (a *Action) Clip() Clip { return a.clip }

// Weight returns the current blend weight in [0, 1].
func (a *Action) Weight() float64 { return a.weight }

// Time returns the playhead in seconds.
func (a *Action) Time() float64 { return a.time }

// IsRunning reports whether the action is playing.
func (a *Action) IsRunning() bool { return a.running }

// Reset rewinds the playhead and restores full weight, cancelling any fade.
func (a *Action) Reset() *Action {
	a.time = 0
	a.weight = 1
	a.fading = false
	return a
}

// Play starts playback.
func (a *Action) Play() *Action {
	a.running = true
	return a
}

// Stop halts playback and drops the weight to zero.
func (a *Action) Stop() *Action {
	a.running = false
	a.weight = 0
	a.fading = false
	return a
}

// FadeIn ramps the weight from 0 to 1 over seconds.
func (a *Action) FadeIn(seconds float64) *Action {
	return a.fade(0, 1, seconds)
}

// FadeOut ramps the weight from its current value to 0 over seconds. The
// action stops when the fade completes.
func (a *Action) FadeOut(seconds float64) *Action {
	return a.fade(a.weight, 0, seconds)
}

func (a *Action) fade(from, to, seconds float64) *Action {
	if seconds <= 0 {
		a.weight = to
		a.fading = false
		if to == 0 {
			a.running = false
		}
		return a
	}
	a.weight = from
	a.fadeFrom = from
	a.fadeTo = to
	a.fadeElapsed = 0
	a.fadeDuration = seconds
	a.fading = true
	return a
}

func (a *Action) update(dt float64) {
	if !a.running {
		return
	}
	if a.clip.Duration > 0 {
		a.time = math.Mod(a.time+dt, a.clip.Duration)
	}
	if !a.fading {
		return
	}
	a.fadeElapsed += dt
	if a.fadeElapsed >= a.fadeDuration {
		a.weight = a.fadeTo
		a.fading = false
		if a.fadeTo == 0 {
			a.running = false
		}
		return
	}
	p := a.fadeElapsed / a.fadeDuration
	a.weight = a.fadeFrom + (a.fadeTo-a.fadeFrom)*p
}

// Mixer owns the actions of one character instance.
type Mixer struct {
	clips   map[Name]Clip
	actions map[Name]*Action
}

// NewMixer indexes clips by state. The T-pose and unrecognised clip names
// are ignored.
func NewMixer(clips []Clip) *Mixer {
	m := &Mixer{
		clips:   make(map[Name]Clip),
		actions: make(map[Name]*Action),
	}
	for _, c := range clips {
		if c.Name == TPoseClip {
			continue
		}
		if n, ok := ParseClipName(c.Name); ok {
			m.clips[n] = c
		}
	}
	return m
}

// Clip returns the clip bound to n.
func (m *Mixer) Clip(n Name) (Clip, bool) {
	c, ok := m.clips[n]
	return c, ok
}

// Action returns the action for n, creating it on first use.
//
// Postcondition: Returns false if the model has no clip for n.
func (m *Mixer) Action(n Name) (*Action, bool) {
	if a, ok := m.actions[n]; ok {
		return a, true
	}
	c, ok := m.clips[n]
	if !ok {
		return nil, false
	}
	a := &Action{clip: c}
	m.actions[n] = a
	return a, true
}

// Update advances every running action by dt seconds.
func (m *Mixer) Update(dt float64) {
	for _, a := range m.actions {
		a.update(dt)
	}
}

// Running returns the states whose actions are playing, in enum order.
func (m *Mixer) Running() []Name {
	var out []Name
	for n, a := range m.actions {
		if a.running {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Names returns the states the model has clips for, in enum order.
func (m *Mixer) Names() []Name {
	out := make([]Name, 0, len(m.clips))
	for n := range m.clips {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

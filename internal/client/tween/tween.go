// Package tween animates model scale for spawn and despawn effects. Tweens
// are advanced by the client tick loop; there are no background timers.
package tween

// Scalable is anything with a uniform scale.
type Scalable interface {
	SetUniformScale(s float64)
}

// Easing maps linear progress in [0, 1] to eased progress.
type Easing func(t float64) float64

// Linear is the identity easing.
func Linear(t float64) float64 { return t }

// backOvershoot is the standard back easing overshoot constant.
const backOvershoot = 1.70158

// BackOut overshoots the target slightly and settles back.
func BackOut(t float64) float64 {
	u := t - 1
	return 1 + (backOvershoot+1)*u*u*u + backOvershoot*u*u
}

// Tween interpolates one target's scale.
type Tween struct {
	target     Scalable
	from, to   float64
	duration   float64
	elapsed    float64
	ease       Easing
	onComplete func()
	killed     bool
}

// Progress returns linear progress in [0, 1].
func (t *Tween) Progress() float64 {
	if t.duration <= 0 {
		return 1
	}
	p := t.elapsed / t.duration
	if p > 1 {
		return 1
	}
	return p
}

// Killed reports whether the tween was cancelled before completing.
func (t *Tween) Killed() bool { return t.killed }

// Manager owns every running tween.
// It is not safe for concurrent use.
type Manager struct {
	tweens []*Tween
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Scale starts a tween of target from from to to over duration seconds.
// Tweens already running on target are killed first.
//
// Postcondition: target's scale is set to from immediately. onComplete, if
// non-nil, runs on the Update that finishes the tween, never after a kill.
func (m *Manager) Scale(target Scalable, from, to, duration float64, ease Easing, onComplete func()) *Tween {
	m.Kill(target)
	if ease == nil {
		ease = Linear
	}
	tw := &Tween{
		target:     target,
		from:       from,
		to:         to,
		duration:   duration,
		ease:       ease,
		onComplete: onComplete,
	}
	target.SetUniformScale(from)
	m.tweens = append(m.tweens, tw)
	return tw
}

// Kill cancels every tween on target without running completion callbacks.
//
// Postcondition: Returns the number of tweens killed.
func (m *Manager) Kill(target Scalable) int {
	kept := m.tweens[:0]
	n := 0
	for _, tw := range m.tweens {
		if tw.target == target {
			tw.killed = true
			n++
			continue
		}
		kept = append(kept, tw)
	}
	for i := len(kept); i < len(m.tweens); i++ {
		m.tweens[i] = nil
	}
	m.tweens = kept
	return n
}

// Active reports whether target has a running tween.
func (m *Manager) Active(target Scalable) bool {
	for _, tw := range m.tweens {
		if tw.target == target {
			return true
		}
	}
	return false
}

// Len returns the number of running tweens.
func (m *Manager) Len() int { return len(m.tweens) }

// Update advances every tween by dt seconds.
func (m *Manager) Update(dt float64) {
	running := make([]*Tween, len(m.tweens))
	copy(running, m.tweens)

	var finished []*Tween
	for _, tw := range running {
		if tw.killed {
			continue
		}
		tw.elapsed += dt
		p := tw.Progress()
		tw.target.SetUniformScale(tw.from + (tw.to-tw.from)*tw.ease(p))
		if p >= 1 {
			tw.target.SetUniformScale(tw.to)
			finished = append(finished, tw)
		}
	}
	for _, tw := range finished {
		m.remove(tw)
	}
	for _, tw := range finished {
		if tw.onComplete != nil {
			tw.onComplete()
		}
	}
}

func (m *Manager) remove(target *Tween) {
	for i, tw := range m.tweens {
		if tw == target {
			m.tweens = append(m.tweens[:i], m.tweens[i+1:]...)
			return
		}
	}
}

// Package locomotion drives a character's animation state and movement from
// held keys. The same Controller runs for the locally driven player and for
// every remote copy fed by relayed updates.
package locomotion

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/cory-johannsen/scenerelay/internal/client/animation"
	"github.com/cory-johannsen/scenerelay/internal/client/input"
	"github.com/cory-johannsen/scenerelay/internal/game/character"
)

// Tuning constants.
const (
	FadeDuration    = 0.2
	RunVelocity     = 5.0
	WalkVelocity    = 2.0
	TurnRate        = 3.0
	JumpLockFactor  = 0.8
	OverrideFactor  = 0.95
	defaultForwardZ = -1.0
)

// CameraRig follows the locally driven player on the ground plane.
type CameraRig interface {
	SetGroundPosition(x, z float64)
}

// Controller is the locomotion state machine of one character.
// It is not safe for concurrent use.
type Controller struct {
	body  *character.Character
	mixer *animation.Mixer
	rig   CameraRig

	current  animation.Name
	active   *animation.Action
	jumpLock Countdown

	overriding bool
	override   Countdown
}

// New creates a controller that starts in Idle and plays the idle clip if
// the model has one.
//
// Precondition: body and mixer must be non-nil.
func New(body *character.Character, mixer *animation.Mixer) *Controller {
	c := &Controller{body: body, mixer: mixer, current: animation.Idle}
	if a, ok := mixer.Action(animation.Idle); ok {
		a.Reset().Play()
		c.active = a
	}
	return c
}

// AttachCamera makes rig follow the character. Pass nil to detach.
func (c *Controller) AttachCamera(rig CameraRig) {
	c.rig = rig
}

// State returns the active animation state.
func (c *Controller) State() animation.Name { return c.current }

// Overriding reports whether a one-shot override is playing.
func (c *Controller) Overriding() bool { return c.overriding }

// JumpLocked reports whether movement transitions are suspended by a jump.
func (c *Controller) JumpLocked() bool { return c.jumpLock.Armed() }

// Mixer returns the animation mixer the controller drives.
func (c *Controller) Mixer() *animation.Mixer { return c.mixer }

// Decide maps held keys to the movement state they request.
func Decide(keys input.KeySet) animation.Name {
	switch {
	case keys.HasDirection() && keys.Jump():
		return animation.RunningJump
	case keys.HasDirection() && keys.Run():
		return animation.Running
	case keys.HasDirection():
		return animation.Walking
	case keys.Jump():
		return animation.RunningJump
	default:
		return animation.Idle
	}
}

// DirectionOffset returns the yaw offset in radians from camera forward for
// the held directional keys. Forward wins over backward; with neither held,
// left wins over right.
func DirectionOffset(keys input.KeySet) float64 {
	switch {
	case keys.Forward():
		switch {
		case keys.Left():
			return math.Pi / 4
		case keys.Right():
			return -math.Pi / 4
		}
		return 0
	case keys.Backward():
		switch {
		case keys.Left():
			return math.Pi/4 + math.Pi/2
		case keys.Right():
			return -math.Pi/4 - math.Pi/2
		}
		return math.Pi
	case keys.Left():
		return math.Pi / 2
	case keys.Right():
		return -math.Pi / 2
	}
	return 0
}

// Update advances the controller by dt seconds.
//
// Precondition: dt >= 0. cameraForward need not be normalized or horizontal.
// Postcondition: Timers, the mixer and, unless an override is playing, the
// movement state and transform have advanced.
func (c *Controller) Update(dt float64, keys input.KeySet, cameraForward mgl64.Vec3) {
	c.jumpLock.Advance(dt)
	if c.override.Advance(dt) {
		c.overriding = false
	}
	c.mixer.Update(dt)

	if c.overriding {
		return
	}

	target := Decide(keys)
	if target != c.current && !c.jumpLock.Armed() {
		if !c.transition(target, keys.Jump()) {
			return
		}
	}

	if !keys.HasDirection() {
		return
	}
	var velocity float64
	switch c.current {
	case animation.Running, animation.RunningJump:
		velocity = RunVelocity
	case animation.Walking:
		velocity = WalkVelocity
	default:
		return
	}
	c.integrate(dt, DirectionOffset(keys), cameraForward, velocity)
}

// transition cross-fades to target. A model without the target clip plays
// its idle clip instead; a model with neither keeps its current state.
// The state name and the playing action differ after such a fallback, so the
// outgoing clip is always the active action.
func (c *Controller) transition(target animation.Name, jumpHeld bool) bool {
	next, ok := c.mixer.Action(target)
	if !ok {
		next, ok = c.mixer.Action(animation.Idle)
		if !ok {
			return false
		}
	}
	if jumpHeld {
		c.jumpLock.Arm(next.Clip().Duration * JumpLockFactor)
	}
	c.crossFade(next)
	c.current = target
	return true
}

func (c *Controller) integrate(dt, offset float64, cameraForward mgl64.Vec3, velocity float64) {
	fwd := mgl64.Vec3{cameraForward.X(), 0, cameraForward.Z()}
	if fwd.Len() < 1e-9 {
		fwd = mgl64.Vec3{0, 0, defaultForwardZ}
	}
	fwd = fwd.Normalize()
	dir := mgl64.QuatRotate(offset, character.Up).Rotate(fwd)

	facing := mgl64.QuatRotate(math.Atan2(dir.X(), dir.Z()), character.Up)
	c.body.Orientation = slerpShortest(c.body.Orientation, facing, math.Min(TurnRate*dt, 1))

	c.body.Position = c.body.Position.Add(mgl64.Vec3{dir.X() * velocity * dt, 0, dir.Z() * velocity * dt})
	if c.rig != nil {
		c.rig.SetGroundPosition(c.body.Position.X(), c.body.Position.Z())
	}
}

func slerpShortest(from, to mgl64.Quat, t float64) mgl64.Quat {
	if from.Dot(to) < 0 {
		to = to.Scale(-1)
	}
	q := mgl64.QuatSlerp(from, to, t)
	if n, err := character.NormalizeOrientation(q); err == nil {
		return n
	}
	return to.Normalize()
}

// PlayOverride interrupts movement with a one-shot clip such as an emote or
// Talking. It clears after 95% of the clip; calling it again restarts the
// countdown. A model without the clip ignores the request.
func (c *Controller) PlayOverride(name animation.Name) {
	next, ok := c.mixer.Action(name)
	if !ok {
		return
	}
	c.overriding = true
	c.override.Arm(next.Clip().Duration * OverrideFactor)
	if !c.override.Armed() {
		c.overriding = false
	}
	if c.current == name {
		return
	}
	c.crossFade(next)
	c.current = name
}

func (c *Controller) crossFade(next *animation.Action) {
	if c.active != nil && c.active != next {
		c.active.FadeOut(FadeDuration)
	}
	next.Reset().FadeIn(FadeDuration).Play()
	c.active = next
}

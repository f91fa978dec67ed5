// Package bot drives a replica World from a scripted key pattern. It is the
// tick loop of the headless client.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/scenerelay/internal/client/animation"
	"github.com/cory-johannsen/scenerelay/internal/client/input"
	"github.com/cory-johannsen/scenerelay/internal/client/replica"
	"github.com/cory-johannsen/scenerelay/internal/protocol"
)

// ErrDisconnected is returned by Run when the server ends the connection.
var ErrDisconnected = errors.New("disconnected from relay")

// Transport carries envelopes to and from the relay.
type Transport interface {
	Events() <-chan protocol.Envelope
	Emit(event string, payload any) error
}

// Step holds a key set for a duration.
type Step struct {
	Keys input.KeySet
	For  time.Duration
}

// DefaultPattern walks a square, sprints, jumps and rests.
func DefaultPattern() []Step {
	return []Step{
		{Keys: input.Of(input.KeyW), For: 2 * time.Second},
		{Keys: input.Of(input.KeyD), For: 2 * time.Second},
		{Keys: input.Of(input.KeyS, input.ShiftLeft), For: time.Second},
		{Keys: input.Of(input.KeyA), For: 2 * time.Second},
		{Keys: input.Of(input.Space), For: time.Second},
		{Keys: input.Of(), For: 2 * time.Second},
	}
}

// Pattern cycles through steps by elapsed time.
type Pattern struct {
	steps   []Step
	index   int
	elapsed time.Duration
}

// NewPattern creates a Pattern. An empty step list holds no keys.
func NewPattern(steps []Step) *Pattern {
	return &Pattern{steps: steps}
}

// Advance moves the pattern forward by dt and returns the keys to hold.
func (p *Pattern) Advance(dt time.Duration) input.KeySet {
	if len(p.steps) == 0 {
		return input.Of()
	}
	p.elapsed += dt
	for i := 0; i < len(p.steps) && p.elapsed >= p.steps[p.index].For; i++ {
		p.elapsed -= p.steps[p.index].For
		p.index = (p.index + 1) % len(p.steps)
	}
	return p.steps[p.index].Keys
}

// Bot owns the tick loop of one headless client.
type Bot struct {
	world   *replica.World
	tr      Transport
	pattern *Pattern
	tick    time.Duration
	logger  *zap.Logger
	now     func() time.Time
	read    int

	emote      animation.Name
	emoteAfter time.Duration
	emoteArmed bool
	alive      time.Duration
}

// New creates a Bot ticking every tick.
//
// Precondition: tick > 0; world, tr and logger must be non-nil.
func New(world *replica.World, tr Transport, pattern *Pattern, tick time.Duration, logger *zap.Logger) *Bot {
	return &Bot{
		world:   world,
		tr:      tr,
		pattern: pattern,
		tick:    tick,
		logger:  logger,
		now:     time.Now,
	}
}

// EmoteAfter plays name once the local avatar has existed for d.
func (b *Bot) EmoteAfter(name animation.Name, d time.Duration) {
	b.emote = name
	b.emoteAfter = d
	b.emoteArmed = true
}

// Run applies inbound events and ticks the world until ctx is done or the
// transport closes.
//
// Postcondition: Returns nil when ctx ends, ErrDisconnected when the relay
// closed the connection, or the first send error.
func (b *Bot) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()

	last := b.now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-b.tr.Events():
			if !ok {
				return ErrDisconnected
			}
			if err := b.world.Handle(ctx, env); err != nil {
				b.logger.Debug("dropping malformed event", zap.String("event", env.Event), zap.Error(err))
				continue
			}
			if env.Event == protocol.EventFailed {
				b.logger.Warn("relay refused request", zap.String("message", b.world.Failure()))
			}
			if err := b.flush(); err != nil {
				return err
			}
		case <-ticker.C:
			now := b.now()
			dt := now.Sub(last)
			last = now
			if err := b.step(dt); err != nil {
				return err
			}
		}
	}
}

func (b *Bot) step(dt time.Duration) error {
	keys := b.pattern.Advance(dt)
	update := b.world.Tick(dt.Seconds(), keys)
	if update != nil {
		b.alive += dt
		if b.emoteArmed && b.alive >= b.emoteAfter {
			b.emoteArmed = false
			if err := b.world.TriggerEmote(b.emote); err != nil {
				b.logger.Warn("skipping emote", zap.Error(err))
			}
		}
	}
	if update != nil {
		if err := b.tr.Emit(protocol.EventClientUpdatePlayer, update); err != nil {
			return fmt.Errorf("sending update: %w", err)
		}
	}
	return b.flush()
}

func (b *Bot) flush() error {
	for _, out := range b.world.TakeOutbound() {
		if err := b.tr.Emit(out.Event, out.Payload); err != nil {
			return fmt.Errorf("sending %s: %w", out.Event, err)
		}
	}
	inbox := b.world.Inbox()
	for _, m := range inbox[b.read:] {
		b.logger.Info("message received",
			zap.String("sender_id", m.SenderID),
			zap.String("sender", m.SenderName),
			zap.String("message", m.Text),
		)
	}
	b.read = len(inbox)
	for _, e := range b.world.TakeEffects() {
		b.logger.Debug("effect", zap.String("kind", e.Kind), zap.String("user_id", e.UserID))
	}
	return nil
}

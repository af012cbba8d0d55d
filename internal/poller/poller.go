// Package poller runs the background long-poll loop of a subscribed session.
//
// Each poll response is processed in order: every raw event is deduplicated by
// event ID, decoded, applied to the registry and only then dispatched, so a
// handler always observes the state its event describes. The cursor advances
// after the whole batch has been handled.
//
// Transient failures back off exponentially (InitialBackoff doubling up to
// MaxBackoff, reset on success) and are retried forever. Malformed payloads
// are logged and dropped; a malformed response that keeps repeating on the
// same cursor backs off on the same schedule. A rejected token is the only
// error that ends Run.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/dedupe"
	"github.com/vovakirdan/pollchat/internal/proto"
)

const (
	DefaultInitialBackoff   = time.Second
	DefaultMaxBackoff       = 30 * time.Second
	DefaultFailureThreshold = 3
)

// Source performs one long poll.
type Source interface {
	Poll(ctx context.Context, cursor string) (*proto.PollResponse, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, cursor string) (*proto.PollResponse, error)

// Poll implements Source.
func (f SourceFunc) Poll(ctx context.Context, cursor string) (*proto.PollResponse, error) {
	return f(ctx, cursor)
}

// Sink receives applied events.
type Sink interface {
	Dispatch(ctx context.Context, ev core.Event) int
}

// Options tunes the loop. Zero values select the defaults.
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// FailureThreshold is the number of consecutive poll failures after which
	// one EventConnectionError is dispatched for the streak.
	FailureThreshold int
	// DedupeWindow is the number of recent event IDs remembered.
	DedupeWindow int
}

func (o Options) withDefaults() Options {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	return o
}

// Poller is a single-use poll loop.
type Poller struct {
	source   Source
	entities Entities
	sink     Sink
	opts     Options
	seen     *dedupe.Window
	log      zerolog.Logger

	state  atomic.Int32
	mu     sync.Mutex
	cursor string
	ran    atomic.Bool

	// after is replaced in tests to observe and skip backoff delays.
	after func(time.Duration) <-chan time.Time
}

// New creates an idle poller.
func New(source Source, entities Entities, sink Sink, opts Options, logger *zerolog.Logger) *Poller {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	opts = opts.withDefaults()
	return &Poller{
		source:   source,
		entities: entities,
		sink:     sink,
		opts:     opts,
		seen:     dedupe.New(opts.DedupeWindow),
		log:      l.With().Str("component", "poller").Logger(),
		after:    time.After,
	}
}

// State returns the current loop state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Cursor returns the last cursor the loop advanced to.
func (p *Poller) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Poller) setState(s State) {
	prev := State(p.state.Swap(int32(s)))
	if prev != s {
		p.log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("state changed")
	}
}

func (p *Poller) setCursor(cursor string) {
	p.mu.Lock()
	p.cursor = cursor
	p.mu.Unlock()
}

// Run polls from cursor until ctx is cancelled, which returns nil, or the
// service rejects the session token, which dispatches EventConnectionError
// and returns the error. Run may be called once.
func (p *Poller) Run(ctx context.Context, cursor string) error {
	if !p.ran.CompareAndSwap(false, true) {
		return errors.New("poller: Run called twice")
	}
	defer p.setState(StateStopped)
	p.setCursor(cursor)

	failures, malformed := 0, 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		p.setState(StatePolling)

		resp, err := p.source.Poll(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, core.ErrInvalidCredentials) {
				p.log.Error().Err(err).Msg("session token rejected, stopping poll loop")
				p.sink.Dispatch(ctx, core.Event{Kind: core.EventConnectionError, Err: err})
				return fmt.Errorf("poll loop stopped: %w", err)
			}
			if errors.Is(err, core.ErrParse) {
				// The cursor cannot advance past a bad response, so repeats back off.
				malformed++
				p.log.Warn().Err(err).Str("cursor", cursor).Int("repeats", malformed-1).Msg("dropping malformed poll response")
				if malformed == 1 {
					continue
				}
				if !p.wait(ctx, p.backoff(malformed-1)) {
					return nil
				}
				continue
			}
			malformed = 0

			failures++
			delay := p.backoff(failures)
			p.log.Warn().Err(err).Int("failures", failures).Dur("backoff", delay).Msg("poll failed, retrying")
			if failures == p.opts.FailureThreshold {
				p.sink.Dispatch(ctx, core.Event{Kind: core.EventConnectionError, Err: err})
			}

			if !p.wait(ctx, delay) {
				return nil
			}
			continue
		}

		if failures > 0 {
			p.log.Info().Int("failures", failures).Msg("poll recovered")
		}
		failures, malformed = 0, 0

		if !p.handleBatch(ctx, resp.Events) {
			return nil
		}
		if resp.Cursor != "" {
			cursor = resp.Cursor
			p.setCursor(cursor)
		}
	}
}

// wait sleeps in StateBackoff and reports false if ctx ended first.
func (p *Poller) wait(ctx context.Context, delay time.Duration) bool {
	p.setState(StateBackoff)
	select {
	case <-ctx.Done():
		return false
	case <-p.after(delay):
		return true
	}
}

// backoff returns the delay before retry number failures (1-based).
func (p *Poller) backoff(failures int) time.Duration {
	delay := p.opts.InitialBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= p.opts.MaxBackoff {
			return p.opts.MaxBackoff
		}
	}
	return delay
}

// handleBatch applies and dispatches events in order. It returns false if ctx
// was cancelled part way through.
func (p *Poller) handleBatch(ctx context.Context, batch []proto.RawEvent) bool {
	for _, raw := range batch {
		if ctx.Err() != nil {
			return false
		}
		if p.seen.Seen(raw.ID) {
			p.log.Debug().Str("event_id", raw.ID).Msg("skipping duplicate event")
			continue
		}

		ev, err := apply(p.entities, raw)
		switch {
		case errors.Is(err, errUnknownType):
			p.log.Debug().Str("event_id", raw.ID).Str("type", raw.Type).Msg("ignoring unknown event type")
			continue
		case err != nil:
			p.log.Warn().Err(err).Str("event_id", raw.ID).Msg("dropping malformed event")
			continue
		case ev == nil:
			continue
		}

		if failed := p.sink.Dispatch(ctx, *ev); failed > 0 {
			p.log.Debug().Int("failed", failed).Str("kind", ev.Kind.String()).Msg("some handlers failed")
		}
	}
	return true
}

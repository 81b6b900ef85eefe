package app

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"liveguess-service/internal/domain"
)

// DefaultTick is how often remaining time is re-derived between store pushes,
// so the display counts down smoothly.
const DefaultTick = 100 * time.Millisecond

// CountdownSnapshot is what a participant or projector display renders: the
// live question (nil when no countdown record exists) and whole seconds left.
type CountdownSnapshot struct {
	Question  *domain.QuestionMeta
	Remaining int
}

// Open reports whether the question is still accepting answers. Remaining of
// zero is terminal: the question is closed regardless of prior displayed time.
func (s CountdownSnapshot) Open() bool {
	return s.Question != nil && s.Remaining > 0
}

func (s CountdownSnapshot) equal(o CountdownSnapshot) bool {
	if s.Remaining != o.Remaining {
		return false
	}
	if (s.Question == nil) != (o.Question == nil) {
		return false
	}
	return s.Question == nil || *s.Question == *o.Question
}

// RemainingSeconds derives whole seconds left on a countdown: the question's
// budget minus time elapsed since the server-assigned start, measured on the
// local clock corrected by the server offset. Clamped at zero.
func RemainingSeconds(cd domain.Countdown, offset time.Duration, now time.Time) int {
	elapsed := now.UnixMilli() + offset.Milliseconds() - cd.StartAt
	left := int64(cd.Question.Seconds)*1000 - elapsed
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / 1000))
}

// CountdownClockStore is the slice of the realtime store the tracker needs.
type CountdownClockStore interface {
	CountdownStore
	ClockSource
}

// CountdownTracker turns the shared countdown record plus the live clock
// offset into a stream of displayable snapshots.
type CountdownTracker struct {
	store CountdownClockStore
	clock clockwork.Clock
	tick  time.Duration
}

func NewCountdownTracker(store CountdownClockStore) *CountdownTracker {
	return NewCountdownTrackerWithClock(store, clockwork.NewRealClock(), DefaultTick)
}

// NewCountdownTrackerWithClock allows a fake clock and tick in tests.
func NewCountdownTrackerWithClock(store CountdownClockStore, clock clockwork.Clock, tick time.Duration) *CountdownTracker {
	return &CountdownTracker{store: store, clock: clock, tick: tick}
}

// Watch subscribes to the countdown record and the clock offset feed and
// re-derives remaining time on a fixed local tick. The channel receives a
// snapshot immediately, then on every change. The cancel func releases both
// store subscriptions and the ticker; call it on every exit path.
func (t *CountdownTracker) Watch(ctx context.Context) (<-chan CountdownSnapshot, func(), error) {
	cdCh, cdCancel, err := t.store.WatchCountdown(ctx)
	if err != nil {
		return nil, nil, err
	}
	offCh, offCancel, err := t.store.WatchClockOffset(ctx)
	if err != nil {
		cdCancel()
		return nil, nil, err
	}

	out := make(chan CountdownSnapshot, 8)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() { close(stop) })
		cdCancel()
		offCancel()
	}

	go t.run(ctx, cdCh, offCh, out, stop)
	return out, cancel, nil
}

func (t *CountdownTracker) run(ctx context.Context, cdCh <-chan *domain.Countdown, offCh <-chan time.Duration, out chan CountdownSnapshot, stop <-chan struct{}) {
	defer close(out)

	var (
		offset  time.Duration
		current *domain.Countdown
		ticker  clockwork.Ticker
		tickC   <-chan time.Time
		last    CountdownSnapshot
		emitted bool
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickC = nil
		}
	}
	defer stopTicker()

	emit := func(s CountdownSnapshot) {
		if emitted && s.equal(last) {
			return
		}
		last, emitted = s, true
		select {
		case out <- s:
		default:
			// Drop the stale snapshot so a slow consumer sees the latest.
			select {
			case <-out:
			default:
			}
			out <- s
		}
	}

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case off, ok := <-offCh:
			if !ok {
				offCh = nil
				continue
			}
			// Picked up by the next tick; no immediate re-derive.
			offset = off
		case cd, ok := <-cdCh:
			if !ok {
				cdCh = nil
				continue
			}
			// A new record replaces the old timer wholesale; never blend.
			stopTicker()
			current = cd
			if current == nil {
				emit(CountdownSnapshot{})
				continue
			}
			if err := current.Question.Validate(); err != nil {
				log.Warn().Err(err).Msg("discarding malformed countdown record")
				current = nil
				emit(CountdownSnapshot{})
				continue
			}
			s := t.snapshot(current, offset, t.clock.Now())
			emit(s)
			if s.Remaining > 0 {
				ticker = t.clock.NewTicker(t.tick)
				tickC = ticker.Chan()
			}
		case now := <-tickC:
			if current == nil {
				stopTicker()
				continue
			}
			s := t.snapshot(current, offset, now)
			emit(s)
			if s.Remaining == 0 {
				// Terminal: no negative countdowns, no further ticks.
				stopTicker()
			}
		}
	}
}

func (t *CountdownTracker) snapshot(cd *domain.Countdown, offset time.Duration, now time.Time) CountdownSnapshot {
	question := cd.Question
	return CountdownSnapshot{
		Question:  &question,
		Remaining: RemainingSeconds(*cd, offset, now),
	}
}

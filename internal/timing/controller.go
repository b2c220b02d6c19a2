// Package timing owns every wall-clock-driven behavior of a match: the 3-2-1
// countdown, the per-question deadline, the post-settlement auto-advance, the
// bonus highlight window, and the forfeit grace period. At most one timer per
// category is live at a time and each is independently cancellable.
package timing

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// QuestionTimeout is the per-question answer deadline.
const QuestionTimeout = 5 * time.Second

// sampleInterval drives the continuously-sampled question clock so a deadline
// bar can track elapsed time at sub-second granularity.
const sampleInterval = 50 * time.Millisecond

// handle is an owned, cancellable timer. Cancellation is idempotent and
// guarantees the handle's callback never runs afterwards, even if it was
// already queued for dispatch.
type handle struct {
	stop chan struct{}
	once sync.Once
}

func newHandle() *handle {
	return &handle{stop: make(chan struct{})}
}

func (h *handle) cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
}

func (h *handle) cancelled() bool {
	if h == nil {
		return true
	}
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// Controller schedules match timers on an injected clock and delivers every
// callback through the dispatch function, which the session uses to keep all
// match logic on a single goroutine.
type Controller struct {
	clock    clockwork.Clock
	dispatch func(func())

	mu        sync.Mutex
	countdown *handle
	question  *handle
	advance   *handle
	bonus     *handle
	grace     *handle
}

// New creates a controller. In production pass clockwork.NewRealClock(); in
// tests a FakeClock.
func New(clock clockwork.Clock, dispatch func(func())) *Controller {
	return &Controller{clock: clock, dispatch: dispatch}
}

// RunCountdown emits the values 3, 2, 1 at one-second cadence and then
// invokes onDone. A previous countdown, if any, is cancelled first.
func (c *Controller) RunCountdown(onTick func(value int), onDone func()) {
	h := c.swap(&c.countdown)
	go func() {
		for v := 3; v >= 1; v-- {
			value := v
			c.post(h, func() { onTick(value) })
			timer := c.clock.NewTimer(time.Second)
			select {
			case <-timer.Chan():
			case <-h.stop:
				stopAndDrain(timer)
				return
			}
		}
		c.post(h, onDone)
	}()
}

// StartQuestionClock arms the per-question deadline. onProgress receives the
// remaining fraction of the window on every sample; onExpire fires exactly
// once when the timeout elapses, unless the clock is cancelled first by an
// answer or a pre-emptive lockout. Starting a new clock cancels the previous
// one.
func (c *Controller) StartQuestionClock(onProgress func(remaining float64), onExpire func()) {
	h := c.swap(&c.question)
	start := c.clock.Now()
	// Arm the ticker before returning so callers (and fake clocks in tests)
	// observe the clock as started once this call completes.
	ticker := c.clock.NewTicker(sampleInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.Chan():
			}
			elapsed := c.clock.Since(start)
			remaining := 1 - float64(elapsed)/float64(QuestionTimeout)
			if remaining < 0 {
				remaining = 0
			}
			if onProgress != nil {
				c.post(h, func() { onProgress(remaining) })
			}
			if elapsed >= QuestionTimeout {
				c.post(h, onExpire)
				return
			}
		}
	}()
}

// CancelQuestionClock stops the pending question deadline. The orchestrator
// must call this before applying any answer or timeout action for the same
// question, otherwise a stale expiry could fire against the next question.
func (c *Controller) CancelQuestionClock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.question.cancel()
	c.question = nil
}

// ScheduleAdvance waits delay after a settlement and then invokes onAdvance,
// which decides between the next question and the end of the match.
func (c *Controller) ScheduleAdvance(delay time.Duration, onAdvance func()) {
	c.oneShot(&c.advance, delay, onAdvance)
}

// ScheduleBonusHide clears the bonus highlight after the flash window.
func (c *Controller) ScheduleBonusHide(delay time.Duration, onHide func()) {
	c.oneShot(&c.bonus, delay, onHide)
}

// ScheduleGrace runs onFire after the forfeit grace period, giving the
// departing side's own messages a chance to land before navigation.
func (c *Controller) ScheduleGrace(delay time.Duration, onFire func()) {
	c.oneShot(&c.grace, delay, onFire)
}

// CancelAll cancels every pending timer. Safe to call redundantly and at any
// point; no callback can fire afterwards.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range []**handle{&c.countdown, &c.question, &c.advance, &c.bonus, &c.grace} {
		(*h).cancel()
		*h = nil
	}
}

func (c *Controller) oneShot(slot **handle, delay time.Duration, fn func()) {
	h := c.swap(slot)
	timer := c.clock.NewTimer(delay)
	go func() {
		select {
		case <-timer.Chan():
			c.post(h, fn)
		case <-h.stop:
			stopAndDrain(timer)
		}
	}()
}

// swap installs a fresh handle in slot, cancelling whatever was there.
func (c *Controller) swap(slot **handle) *handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	(*slot).cancel()
	h := newHandle()
	*slot = h
	return h
}

// post delivers fn through the dispatcher unless the handle was cancelled.
// The cancellation check runs again inside the dispatched closure so a
// cancel that races with delivery still wins.
func (c *Controller) post(h *handle, fn func()) {
	if h.cancelled() || fn == nil {
		return
	}
	c.dispatch(func() {
		if h.cancelled() {
			return
		}
		fn()
	})
}

func stopAndDrain(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}

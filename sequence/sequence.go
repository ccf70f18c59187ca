/*Package sequence orders concurrent workers by a caller-assigned index.

A Gate holds a turn counter and a count of workers in flight.  A worker with
index k waits until the counter equals k, does its work, and advances the
counter to k+1.  Workers may reach the gate in any order; the gate lets them
through in index order.

Waits are bounded by "no progress" rather than wall clock: the budget is
reset whenever the number of workers in flight decreases, so a long sequence
that keeps completing is never timed out, while one that stops completing is.
A hard per-wait deadline bounds a single stuck worker even when unrelated
workers keep completing.
*/
package sequence

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultStall is the default no-progress budget
	DefaultStall = 5 * time.Second

	// DefaultDeadline is the default hard limit on a single wait
	DefaultDeadline = time.Minute
)

var (
	// ErrStalled is generated when no worker completed within the stall budget
	ErrStalled = errors.New("no worker completed within the stall budget")

	// ErrDeadline is generated when a single wait exceeded the hard deadline
	ErrDeadline = errors.New("wait exceeded its deadline")
)

// Gate orders workers by index.  The zero value is not usable; use New.
type Gate struct {
	mu       sync.Mutex
	next     int
	inflight int
	changed  chan struct{}

	stall    time.Duration
	deadline time.Duration
}

// New returns a gate with the given no-progress budget and hard deadline.
// stall <= 0 uses DefaultStall; deadline < 0 disables the hard deadline and
// deadline == 0 uses DefaultDeadline.
func New(stall, deadline time.Duration) *Gate {
	if stall <= 0 {
		stall = DefaultStall
	}
	if deadline == 0 {
		deadline = DefaultDeadline
	}
	return &Gate{changed: make(chan struct{}), stall: stall, deadline: deadline}
}

// broadcast wakes every waiter.  g.mu must be held.
func (g *Gate) broadcast() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// Reset sets the turn counter and in-flight count to zero
func (g *Gate) Reset() {
	g.mu.Lock()
	g.next = 0
	g.inflight = 0
	g.broadcast()
	g.mu.Unlock()
}

// Enter registers a worker in flight
func (g *Gate) Enter() {
	g.mu.Lock()
	g.inflight++
	g.mu.Unlock()
}

// Leave unregisters a worker.  Every call is progress for the waiters.
func (g *Gate) Leave() {
	g.mu.Lock()
	if g.inflight > 0 {
		g.inflight--
	}
	g.broadcast()
	g.mu.Unlock()
}

// Advance moves the turn counter from k to k+1.  It returns false and does
// nothing if it is not k's turn.
func (g *Gate) Advance(k int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next != k {
		return false
	}
	g.next++
	g.broadcast()
	return true
}

// Next is the index whose turn it is
func (g *Gate) Next() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}

// InFlight is the number of workers registered with Enter and not yet Left
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight
}

// AwaitTurn blocks until it is index k's turn
func (g *Gate) AwaitTurn(ctx context.Context, k int) error {
	err := g.await(ctx, func() bool { return g.next == k })
	if err != nil {
		return errors.Wrapf(err, "waiting for turn of index %d", k)
	}
	return nil
}

// AwaitIdle blocks until no worker is in flight
func (g *Gate) AwaitIdle(ctx context.Context) error {
	err := g.await(ctx, func() bool { return g.inflight == 0 })
	if err != nil {
		return errors.Wrap(err, "waiting for workers to finish")
	}
	return nil
}

// await blocks until ready is true.  ready is evaluated with g.mu held.
func (g *Gate) await(ctx context.Context, ready func() bool) error {
	start := time.Now()
	lastProgress := start

	g.mu.Lock()
	last := g.inflight
	for !ready() {
		ch := g.changed
		next, inflight := g.next, g.inflight
		g.mu.Unlock()

		now := time.Now()
		if now.Sub(lastProgress) >= g.stall {
			return errors.Wrapf(ErrStalled, "next=%d inflight=%d after %v", next, inflight, now.Sub(lastProgress))
		}
		if g.deadline > 0 && now.Sub(start) >= g.deadline {
			return errors.Wrapf(ErrDeadline, "next=%d inflight=%d after %v", next, inflight, now.Sub(start))
		}
		wait := g.stall - now.Sub(lastProgress)
		if g.deadline > 0 {
			if d := g.deadline - now.Sub(start); d < wait {
				wait = d
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ch:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()

		g.mu.Lock()
		if g.inflight < last {
			lastProgress = time.Now()
		}
		last = g.inflight
	}
	g.mu.Unlock()
	return nil
}

package sequence_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.jpl.nasa.gov/bdube/camerad/sequence"
)

func TestGateOrdersWorkers(t *testing.T) {
	const n = 32
	g := sequence.New(time.Second, -1)
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for _, k := range rand.Perm(n) {
		g.Enter()
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			defer g.Leave()
			if err := g.AwaitTurn(context.Background(), k); err != nil {
				t.Errorf("worker %d: %v", k, err)
				return
			}
			mu.Lock()
			order = append(order, k)
			mu.Unlock()
			g.Advance(k)
		}(k)
	}
	if err := g.AwaitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	for i, k := range order {
		if i != k {
			t.Fatalf("worker %d ran in position %d, order %v", k, i, order)
		}
	}
	if g.Next() != n {
		t.Errorf("expected counter %d, got %d", n, g.Next())
	}
}

func TestGateStallsOnGap(t *testing.T) {
	g := sequence.New(50*time.Millisecond, -1)
	g.Enter()
	start := time.Now()
	err := g.AwaitTurn(context.Background(), 2)
	if !errors.Is(err, sequence.ErrStalled) {
		t.Fatalf("expected ErrStalled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("gave up after %v, before the stall budget", elapsed)
	}
	if g.Next() != 0 {
		t.Errorf("counter moved to %d without any worker completing", g.Next())
	}
}

func TestGateProgressResetsBudget(t *testing.T) {
	// each worker takes longer than half the budget, the whole run takes several budgets
	stall := 80 * time.Millisecond
	g := sequence.New(stall, -1)
	const n = 6
	for k := 0; k < n; k++ {
		g.Enter()
		go func(k int) {
			defer g.Leave()
			if err := g.AwaitTurn(context.Background(), k); err != nil {
				t.Errorf("worker %d: %v", k, err)
				return
			}
			time.Sleep(stall / 2)
			g.Advance(k)
		}(k)
	}
	if err := g.AwaitIdle(context.Background()); err != nil {
		t.Fatalf("slow but progressing sequence timed out: %v", err)
	}
}

func TestGateDeadlineBoundsSingleWait(t *testing.T) {
	// unrelated workers keep completing, but index 100 never gets its turn
	g := sequence.New(time.Second, 100*time.Millisecond)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			g.Enter()
			time.Sleep(5 * time.Millisecond)
			g.Leave()
		}
	}()
	err := g.AwaitTurn(context.Background(), 100)
	if !errors.Is(err, sequence.ErrDeadline) {
		t.Fatalf("expected ErrDeadline, got %v", err)
	}
}

func TestGateCancel(t *testing.T) {
	g := sequence.New(time.Minute, -1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := g.AwaitTurn(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAdvanceOutOfTurn(t *testing.T) {
	g := sequence.New(0, 0)
	if g.Advance(1) {
		t.Error("Advance(1) succeeded on a fresh gate")
	}
	if !g.Advance(0) || g.Next() != 1 {
		t.Errorf("Advance(0) failed, next=%d", g.Next())
	}
	g.Reset()
	if g.Next() != 0 || g.InFlight() != 0 {
		t.Errorf("Reset left next=%d inflight=%d", g.Next(), g.InFlight())
	}
}

package fitscube

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"
)

// Task is a frame handed to a worker by Submit
type Task struct {
	index  int
	gen    uint64
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Index is the extension index of the frame
func (t *Task) Index() int {
	return t.index
}

// Done is closed when the worker has finished, successfully or not
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel stops the worker if it is still waiting for its turn.  A worker that
// has begun writing finishes the write.
func (t *Task) Cancel() {
	t.cancel()
}

// Err is the result of the worker, valid once Done is closed
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the worker finishes or ctx expires
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit copies the frame and hands it to a new worker, which appends it to
// the data cube as extension f.Index once every lower index has been
// written.  The caller's buffer may be reused as soon as Submit returns.
func (w *Writer) Submit(f *Frame) (*Task, error) {
	const fn = "fitscube.Writer.Submit"
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open || w.closing {
		w.logf("%s: %v", fn, ErrNotOpen)
		return nil, ErrNotOpen
	}
	if !w.shape.Cube {
		w.logf("%s: %v: %s is a single image file", fn, ErrWrite, w.name)
		return nil, errors.Wrap(ErrWrite, "data cube write to a single image file")
	}
	if f.Index < 0 {
		return nil, errors.Wrapf(ErrWrite, "negative extension index %d", f.Index)
	}
	if err := w.claim(f.Index); err != nil {
		w.logf("%s: %v: %v", fn, ErrWrite, err)
		return nil, errors.Wrap(ErrWrite, err.Error())
	}
	pix, n, err := copyPixels(f.Data, w.shape.Datatype)
	if err == nil && n != w.shape.Pixels() {
		err = errors.Errorf("frame of %d pixels does not fill the %dx%d image", n, w.shape.Cols, w.shape.Rows)
	}
	if err != nil {
		w.logf("%s: %v: extension %d: %v", fn, ErrWrite, f.Index, err)
		return nil, errors.Wrap(ErrWrite, err.Error())
	}

	cards := append([]fitsio.Card{{Name: "EXTNAME", Value: strconv.Itoa(f.Index + 1), Comment: "extension name"}},
		w.shape.Datatype.scaleCards()...)
	cards = append(cards, w.extCards...)
	cards = append(cards, w.cards(f.Keys)...)
	img := &Image{
		Name:   strconv.Itoa(f.Index + 1),
		Bitpix: w.shape.Datatype.Bitpix(),
		Axes:   []int{w.shape.Cols, w.shape.Rows},
		Cards:  cards,
		Data:   pix,
	}
	var amp string
	if f.AmpSec != nil {
		amp = f.AmpSec.String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{index: f.Index, gen: w.gen, done: make(chan struct{}), cancel: cancel}
	w.tasks[t] = struct{}{}
	w.gate.Enter()
	go w.work(ctx, t, w.cont, img, amp)
	w.debugf("%s: spawned worker for extension %d of %s", fn, f.Index, w.name)
	return t, nil
}

// work is the body of one worker: wait for the turn, then write
func (w *Writer) work(ctx context.Context, t *Task, cont Container, img *Image, amp string) {
	const fn = "fitscube.Writer.work"
	defer func() {
		w.mu.Lock()
		delete(w.tasks, t)
		if t.gen == w.gen {
			w.gate.Leave()
		}
		w.mu.Unlock()
		t.cancel()
		close(t.done)
	}()

	if err := w.gate.AwaitTurn(ctx, t.index); err != nil {
		w.fail(t)
		atomic.AddUint64(&w.timeouts, 1)
		w.logf("%s: %v: extension %d: %v", fn, ErrTimeout, t.index, err)
		t.err = errors.Wrapf(ErrTimeout, "extension %d: %v", t.index, err)
		return
	}

	if amp != "" {
		img.Cards = append(img.Cards, fitsio.Card{Name: "AMPSEC", Value: amp, Comment: "amplifier section"})
	} else {
		w.logf("%s: no AMPSEC key: missing amplifier section information for extension %d", fn, t.index)
	}

	w.io.Lock()
	if next := w.gate.Next(); next != t.index {
		w.io.Unlock()
		atomic.AddUint64(&w.errs, 1)
		w.logf("%s: %v: extension %s out of turn, next is %d", fn, ErrWrite, img.Name, next+1)
		t.err = errors.Wrapf(ErrWrite, "extension %s out of turn, next is %d", img.Name, next+1)
		return
	}
	atomic.StoreInt32(&w.writing, 1)
	w.logf("%s: adding %dx%d frame to extension %s", fn, img.Axes[0], img.Axes[1], img.Name)
	err := cont.Append(img)
	atomic.StoreInt32(&w.writing, 0)
	w.io.Unlock()
	if err != nil {
		w.fail(t)
		atomic.AddUint64(&w.errs, 1)
		w.logf("%s: %v: extension %s: %v", fn, ErrWrite, img.Name, err)
		t.err = errors.Wrapf(ErrWrite, "extension %s: %v", img.Name, err)
		return
	}
	w.mu.Lock()
	if t.gen == w.gen {
		w.gate.Advance(t.index)
	}
	w.mu.Unlock()
	atomic.AddUint64(&w.frames, 1)
}

// claim returns an error if extension k is written or has a worker.  w.mu is held.
func (w *Writer) claim(k int) error {
	if next := w.gate.Next(); k < next {
		return errors.Errorf("extension %d already written, next is %d", k+1, next+1)
	}
	for t := range w.tasks {
		if t.gen == w.gen && t.index == k {
			return errors.Errorf("extension %d already submitted", k+1)
		}
	}
	return nil
}

// fail sets the sticky error if t belongs to the open file
func (w *Writer) fail(t *Task) {
	w.mu.Lock()
	if t.gen == w.gen {
		w.failed = true
	}
	w.mu.Unlock()
}

// Write submits the frame and waits until every worker of the file has
// finished.  A nil error means extension f.Index is on stable storage.
// If the wait runs out, the error is ErrTimeout and the pending task keeps
// running; it is canceled by Close.  In single image mode Write is
// WriteImage of the whole frame.
func (w *Writer) Write(ctx context.Context, f *Frame) error {
	const fn = "fitscube.Writer.Write"
	if !w.Shape().Cube && w.IsOpen() {
		return w.WriteImage(f.Data, 1)
	}
	t, err := w.Submit(f)
	if err != nil {
		return err
	}
	if err = w.gate.AwaitIdle(ctx); err != nil {
		atomic.AddUint64(&w.timeouts, 1)
		w.logf("%s: %v: extension %d still pending, %d workers in flight: %v", fn, ErrTimeout, t.index, w.InFlight(), err)
		return errors.Wrapf(ErrTimeout, "extension %d still pending: %v", t.index, err)
	}
	if err = t.Wait(ctx); err != nil {
		return err
	}
	if w.Failed() {
		w.logf("%s: an error occurred in one of the FITS writing workers", fn)
		return ErrFailed
	}
	return nil
}

// cancelTasks cancels every worker that has not finished and waits up to
// the stall budget for them to return.  A worker already writing completes
// its write first.  It returns false if any worker did not return.
func (w *Writer) cancelTasks() bool {
	const fn = "fitscube.Writer.cancelTasks"
	w.mu.Lock()
	pending := make([]*Task, 0, len(w.tasks))
	for t := range w.tasks {
		if t.gen == w.gen {
			t.cancel()
			pending = append(pending, t)
		}
	}
	w.mu.Unlock()
	timer := time.NewTimer(w.stall)
	defer timer.Stop()
	for i, t := range pending {
		select {
		case <-t.done:
		case <-timer.C:
			for _, t := range pending[i:] {
				select {
				case <-t.done:
				default:
					w.logf("%s: abandoned worker of extension %d", fn, t.index+1)
				}
			}
			return false
		}
	}
	return true
}

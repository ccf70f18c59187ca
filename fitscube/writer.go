/*Package fitscube writes FITS files, either a single image in the primary HDU
or a data cube of image extensions fed concurrently by many workers.

In data cube mode each frame carries an extension index.  Frames may be
submitted in any order, from any goroutine; every frame is handed to its own
worker, and the workers put the extensions on disk in index order, one at a
time.  Waits are bounded by lack of progress, not by how long a sequence
runs.

While a file is open it is named <name>.writing.  Close writes the trailer
keywords and checksums to the primary header and moves the file to <name>.
*/
package fitscube

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	"github.jpl.nasa.gov/bdube/camerad/fitskeys"
	"github.jpl.nasa.gov/bdube/camerad/sequence"
)

// reserved keywords are written by the encoder and may not be supplied by users
var reserved = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true, "NAXIS2": true,
	"NAXIS3": true, "EXTEND": true, "XTENSION": true, "PCOUNT": true, "GCOUNT": true,
	"END": true, "EXTNAME": true, "BZERO": true, "BSCALE": true,
}

// Config configures a Writer.  The zero value is usable.
type Config struct {
	// Storage holds the files.  nil uses Disk.
	Storage Storage

	// Logger receives log lines.  nil uses the standard logger.
	Logger *log.Logger

	// Debug enables verbose logging
	Debug bool

	// Stall is how long a wait may go without any worker completing.
	// Zero uses sequence.DefaultStall.
	Stall time.Duration

	// Deadline bounds any single wait regardless of progress.  Zero uses
	// sequence.DefaultDeadline, negative disables it.
	Deadline time.Duration
}

// Writer writes one FITS file at a time.  It is safe for concurrent use.
type Writer struct {
	storage Storage
	logger  *log.Logger
	debug   bool

	// io is held while bytes move to the container
	io      sync.Mutex
	writing int32

	// mu guards the file state below.  io is always taken before mu.
	mu       sync.Mutex
	open     bool
	closing  bool
	gen      uint64
	name     string
	shape    Shape
	cont     Container
	primary  *Image
	extCards []fitsio.Card
	failed   bool
	tasks    map[*Task]struct{}

	gate  *sequence.Gate
	stall time.Duration

	frames   uint64
	errs     uint64
	timeouts uint64
}

// New returns a closed Writer
func New(cfg Config) *Writer {
	w := &Writer{
		storage: cfg.Storage,
		logger:  cfg.Logger,
		debug:   cfg.Debug,
		tasks:   make(map[*Task]struct{}),
		gate:    sequence.New(cfg.Stall, cfg.Deadline),
		stall:   cfg.Stall,
	}
	if w.stall <= 0 {
		w.stall = sequence.DefaultStall
	}
	if w.storage == nil {
		w.storage = Disk{Logger: cfg.Logger}
	}
	return w
}

func (w *Writer) logf(format string, args ...interface{}) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (w *Writer) debugf(format string, args ...interface{}) {
	if w.debug {
		w.logf(format, args...)
	}
}

// cards converts a keyword database to header cards.  Keywords that cannot be
// written are logged and skipped.
func (w *Writer) cards(db *fitskeys.DB) []fitsio.Card {
	var out []fitsio.Card
	for _, e := range db.Entries() {
		if err := fitskeys.ValidKeyword(e.Keyword); err != nil || reserved[e.Keyword] {
			if err == nil {
				err = errors.Errorf("%s is reserved", e.Keyword)
			}
			w.logf("fitscube: %v: %s=%s (%s): %v", ErrHeader, e.Keyword, e.Value, e.Type, err)
			continue
		}
		c, demoted := e.Card()
		if demoted {
			w.logf("fitscube: unable to convert value %q of %s to %s, saved as STRING", e.Value, e.Keyword, e.Type)
		}
		out = append(out, c)
	}
	return out
}

// preflight checks that path can be created without creating it
func preflight(path string) error {
	if path == "" {
		return errors.New("empty file name")
	}
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("%s already exists", path)
	}
	tmp := path + InProcessSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(tmp)
}

// Open creates the file at path.  The system keys, and the user keys if
// writeUserKeys is true, are written to the primary header.  The extension
// keys are written to every extension of a data cube.
func (w *Writer) Open(path string, shape Shape, keys Keywords, writeUserKeys bool) error {
	const fn = "fitscube.Writer.Open"
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.open {
		w.logf("%s: %v: %s", fn, ErrAlreadyOpen, w.name)
		return errors.Wrap(ErrAlreadyOpen, w.name)
	}
	if shape.Cols <= 0 || shape.Rows <= 0 {
		w.logf("%s: %v: image axes %dx%d", fn, ErrCreate, shape.Cols, shape.Rows)
		return errors.Wrapf(ErrCreate, "image axes %dx%d", shape.Cols, shape.Rows)
	}
	if err := preflight(path); err != nil {
		w.logf("%s: %v: %q: %v", fn, ErrCreate, path, err)
		return errors.Wrapf(ErrCreate, "%s: %v", path, err)
	}

	cards := w.cards(keys.System)
	if writeUserKeys {
		for _, c := range w.cards(keys.User) {
			cards = setCard(cards, c)
		}
	}
	primary := &Image{Bitpix: shape.Datatype.Bitpix(), Cards: cards}
	initial := primary
	if shape.Cube {
		primary.Axes = []int{}
	} else {
		primary.Axes = []int{shape.Cols, shape.Rows}
		primary.Data = blankPixels(shape.Datatype, shape.Pixels())
		primary.Cards = append(primary.Cards, shape.Datatype.scaleCards()...)
		initial = nil
	}

	cont, err := w.storage.Create(path, initial)
	if err != nil {
		w.logf("%s: %v: %q: %v", fn, ErrCreate, path, err)
		return errors.Wrapf(ErrCreate, "%s: %v", path, err)
	}

	w.open = true
	w.name = path
	w.shape = shape
	w.cont = cont
	w.primary = primary
	w.extCards = w.cards(keys.Extension)
	w.failed = false
	w.gate.Reset()
	w.logf("%s: opened file %q for FITS write", fn, path)
	return nil
}

// WriteImage writes data into the primary image of a single image file,
// starting at the 1-based pixel fpixel.  fpixel 0 is the same as 1.  The
// file is on stable storage when WriteImage returns.
func (w *Writer) WriteImage(data interface{}, fpixel int) error {
	const fn = "fitscube.Writer.WriteImage"
	w.io.Lock()
	defer w.io.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open || w.closing {
		w.logf("%s: %v", fn, ErrNotOpen)
		return ErrNotOpen
	}
	if w.shape.Cube {
		w.logf("%s: %v: file is a data cube, frames are written with Write", fn, ErrWrite)
		return errors.Wrap(ErrWrite, "single image write to a data cube")
	}
	pix, n, err := copyPixels(data, w.shape.Datatype)
	if err != nil {
		return w.failWrite(fn, err)
	}
	if fpixel <= 0 {
		fpixel = 1
	}
	if fpixel-1+n > w.shape.Pixels() {
		return w.failWrite(fn, errors.Errorf("%d pixels at %d exceed the %dx%d image", n, fpixel, w.shape.Cols, w.shape.Rows))
	}
	if err = copyInto(w.primary.Data, pix, fpixel-1); err != nil {
		return w.failWrite(fn, err)
	}
	atomic.StoreInt32(&w.writing, 1)
	err = w.cont.WritePrimary(w.primary)
	atomic.StoreInt32(&w.writing, 0)
	if err != nil {
		return w.failWrite(fn, err)
	}
	atomic.AddUint64(&w.frames, 1)
	return nil
}

// failWrite marks the sticky error and wraps err as ErrWrite.  w.mu is held.
func (w *Writer) failWrite(fn string, err error) error {
	w.failed = true
	atomic.AddUint64(&w.errs, 1)
	w.logf("%s: %v: %s: %v", fn, ErrWrite, w.name, err)
	return errors.Wrap(ErrWrite, err.Error())
}

// Close finishes the file.  The user keys are written to the primary header
// if writeUserKeys is true, followed by the dates of the trailer, which may be
// nil.  The writer is closed when Close returns, even if it returns an error.
// Close on a closed writer does nothing.
func (w *Writer) Close(writeUserKeys bool, user *fitskeys.DB, tr *Trailer) error {
	const fn = "fitscube.Writer.Close"
	w.mu.Lock()
	if !w.open || w.closing {
		w.mu.Unlock()
		w.debugf("%s: no open FITS file to close", fn)
		return nil
	}
	w.closing = true
	name := w.name
	w.mu.Unlock()

	if err := w.gate.AwaitIdle(context.Background()); err != nil {
		w.logf("%s: %v, canceling %d workers of %s", fn, err, w.gate.InFlight(), name)
		if !w.cancelTasks() {
			w.mu.Lock()
			defer w.mu.Unlock()
			w.logf("%s: %v: workers of %s did not return, file abandoned at %s", fn, ErrTimeout, name, name+InProcessSuffix)
			w.cont.Abort()
			w.reset()
			return errors.Wrapf(ErrTimeout, "closing %s: workers did not return", name)
		}
	}

	w.io.Lock()
	defer w.io.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return nil
	}

	primary := w.primary
	if writeUserKeys {
		w.logf("%s: writing user-defined keys after exposure", fn)
		for _, c := range w.cards(user) {
			primary.Cards = setCard(primary.Cards, c)
		}
	}
	primary.Cards = setCard(primary.Cards, fitsio.Card{Name: "DATE", Value: timestamp(time.Now()), Comment: "FITS file write date (UTC)"})
	if tr != nil {
		for _, c := range tr.cards() {
			primary.Cards = setCard(primary.Cards, c)
		}
	}

	var err error
	if ferr := w.cont.Finish(primary); ferr != nil {
		w.logf("%s: error writing checksum and closing %s: %v", fn, name, ferr)
		w.cont.Abort()
		err = errors.Wrapf(ErrWrite, "closing %s: %v", name, ferr)
	}

	w.reset()
	if err == nil {
		w.logf("%s: %s closed", fn, name)
	}
	return err
}

// reset returns the writer to the closed state.  Workers of the old file
// no longer touch the gate.  w.mu is held.
func (w *Writer) reset() {
	w.open = false
	w.closing = false
	w.gen++
	w.name = ""
	w.cont = nil
	w.primary = nil
	w.extCards = nil
	w.gate.Reset()
}

func (tr *Trailer) cards() []fitsio.Card {
	status := "completed"
	if tr.Aborted {
		status = "aborted"
	}
	out := []fitsio.Card{{Name: "COMPSTAT", Value: status, Comment: "exposure completion status"}}
	if !tr.Start.IsZero() {
		start := tr.Start.UTC()
		out = append(out,
			fitsio.Card{Name: "DATE-BEG", Value: timestamp(start), Comment: "exposure start time (UTC)"},
			fitsio.Card{Name: "DATE-OBS", Value: start.Format("2006-01-02"), Comment: "exposure start date (UTC)"},
			fitsio.Card{Name: "TIME-OBS", Value: start.Format("15:04:05.000000"), Comment: "exposure start time of day (UTC)"})
	}
	if !tr.Stop.IsZero() {
		out = append(out, fitsio.Card{Name: "DATE-END", Value: timestamp(tr.Stop), Comment: "exposure end time (UTC)"})
	}
	if !tr.Command.IsZero() {
		out = append(out, fitsio.Card{Name: "DATE-CMD", Value: timestamp(tr.Command), Comment: "time the expose command was received (UTC)"})
	}
	return out
}

// IsOpen is true if a file is open
func (w *Writer) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// Name is the file being written, empty when closed
func (w *Writer) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name
}

// Shape is the shape of the open file
func (w *Writer) Shape() Shape {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shape
}

// Extensions is the index of the next extension to be written
func (w *Writer) Extensions() int {
	return w.gate.Next()
}

// InFlight is the number of workers that have not finished
func (w *Writer) InFlight() int {
	return w.gate.InFlight()
}

// Writing is true while a worker is moving bytes to the file
func (w *Writer) Writing() bool {
	return atomic.LoadInt32(&w.writing) == 1
}

// Failed is true if any write to the open file failed.  It is cleared by Open.
func (w *Writer) Failed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

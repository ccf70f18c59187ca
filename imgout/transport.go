package imgout

import (
	"context"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.jpl.nasa.gov/bdube/camerad/camera"
	"github.jpl.nasa.gov/bdube/camerad/fitscube"
	"github.jpl.nasa.gov/bdube/camerad/sequence"
)

// TransportSink publishes exposures to a broker.  Every exposure gets a
// sequence id; its frames are published in index order no matter what order
// they arrive in.
type TransportSink struct {
	pub    Publisher
	topic  string
	logger *log.Logger
	debug  bool

	gate *sequence.Gate

	mu     sync.Mutex
	open   bool
	seq    string
	name   string
	shape  fitscube.Shape
	ext    []Key
	failed bool

	// claimed are the frame indices being published
	claimed map[int]bool

	sent uint64
}

// NewTransport returns a sink publishing with pub under cfg.Topic
func NewTransport(pub Publisher, cfg Config) *TransportSink {
	topic := cfg.Topic
	if topic == "" {
		topic = "camerad"
	}
	return &TransportSink{
		pub:    pub,
		topic:  topic,
		logger: cfg.Logger,
		debug:  cfg.Debug,
		gate:   sequence.New(cfg.Stall, cfg.Deadline),
	}
}

func (t *TransportSink) send(kind string, msg interface{}) error {
	b, err := Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "encoding %s message", kind)
	}
	return t.pub.Publish(t.topic+"/"+kind, b)
}

// Open connects to the broker and announces the exposure
func (t *TransportSink) Open(writeKeys bool, info *camera.Information) error {
	const fn = "imgout.TransportSink.Open"
	if err := info.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		logf(t.logger, "%s: %v: %s", fn, ErrBusy, t.name)
		return errors.Wrap(ErrBusy, t.name)
	}
	if err := t.pub.Connect(); err != nil {
		logf(t.logger, "%s: %v", fn, err)
		return err
	}
	shape := info.Shape()
	msg := OpenMessage{
		Sequence: uuid.New().String(),
		Name:     info.ImageName,
		Cols:     shape.Cols,
		Rows:     shape.Rows,
		Bitpix:   shape.Datatype.Bitpix(),
		Cube:     shape.Cube,
		Frames:   info.Frames,
		Keys:     keys(info.SystemKeys),
		Time:     time.Now().UTC(),
	}
	if writeKeys {
		msg.Keys = append(msg.Keys, keys(info.UserKeys)...)
	}
	if err := t.send("open", msg); err != nil {
		logf(t.logger, "%s: %v", fn, err)
		return err
	}
	t.open = true
	t.seq = msg.Sequence
	t.name = info.ImageName
	t.shape = shape
	t.ext = keys(info.ExtensionKeys)
	t.failed = false
	t.claimed = make(map[int]bool)
	t.gate.Reset()
	logf(t.logger, "%s: opened sequence %s for %s", fn, t.seq, t.name)
	return nil
}

// WriteImage publishes the frame once every lower index has been published
func (t *TransportSink) WriteImage(ctx context.Context, f *fitscube.Frame, info *camera.Information) error {
	const fn = "imgout.TransportSink.WriteImage"
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return ErrNotOpen
	}
	if next := t.gate.Next(); f.Index < next || t.claimed[f.Index] {
		t.mu.Unlock()
		logf(t.logger, "%s: %v: frame %d already published or pending, next is %d", fn, fitscube.ErrWrite, f.Index, next)
		return errors.Wrapf(fitscube.ErrWrite, "frame %d already published or pending", f.Index)
	}
	t.claimed[f.Index] = true
	msg := FrameMessage{
		Sequence: t.seq,
		Index:    f.Index,
		Extname:  strconv.Itoa(f.Index + 1),
		Cols:     t.shape.Cols,
		Rows:     t.shape.Rows,
		Keys:     append(append([]Key(nil), t.ext...), keys(f.Keys)...),
	}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.claimed, f.Index)
		t.mu.Unlock()
	}()

	amp := f.AmpSec
	if amp == nil && info != nil {
		amp = info.AmpSec(f.Index)
	}
	if amp != nil {
		msg.AmpSec = amp.String()
	}
	raw, bitpix, err := pixelBytes(f.Data)
	if err != nil {
		return errors.Wrap(fitscube.ErrWrite, err.Error())
	}
	msg.Bitpix = bitpix
	msg.Data = Compress(raw)

	t.gate.Enter()
	defer t.gate.Leave()
	if err = t.gate.AwaitTurn(ctx, f.Index); err != nil {
		t.fail()
		logf(t.logger, "%s: %v: frame %d: %v", fn, fitscube.ErrTimeout, f.Index, err)
		return errors.Wrapf(fitscube.ErrTimeout, "frame %d: %v", f.Index, err)
	}
	if err = t.send("frame", msg); err != nil {
		t.fail()
		logf(t.logger, "%s: frame %d: %v", fn, f.Index, err)
		return err
	}
	t.gate.Advance(f.Index)
	atomic.AddUint64(&t.sent, 1)
	if t.debug {
		logf(t.logger, "%s: published frame %d of %s, %d bytes compressed from %d", fn, f.Index, msg.Sequence, len(msg.Data), len(raw))
	}
	return nil
}

func (t *TransportSink) fail() {
	t.mu.Lock()
	t.failed = true
	t.mu.Unlock()
}

// Close announces the end of the exposure.  Close on a closed sink does
// nothing.
func (t *TransportSink) Close(writeKeys bool, info *camera.Information) error {
	const fn = "imgout.TransportSink.Close"
	if !t.IsOpen() {
		return nil
	}
	if err := t.gate.AwaitIdle(context.Background()); err != nil {
		logf(t.logger, "%s: %v", fn, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	msg := CloseMessage{Sequence: t.seq, Name: t.name, Frames: t.gate.Next()}
	if info != nil {
		msg.Start, msg.Stop, msg.Aborted = info.Start, info.Stop, info.Aborted
		if writeKeys {
			msg.Keys = keys(info.UserKeys)
		}
	}
	err := t.send("close", msg)
	if err != nil {
		logf(t.logger, "%s: %v", fn, err)
	}
	t.open = false
	t.name = ""
	t.seq = ""
	t.gate.Reset()
	return err
}

// IsOpen is true while an exposure is open
func (t *TransportSink) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Sequence is the id of the open exposure
func (t *TransportSink) Sequence() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Failed is true if a frame of the open exposure could not be published
func (t *TransportSink) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Sent is the number of frames published over the life of the sink
func (t *TransportSink) Sent() uint64 {
	return atomic.LoadUint64(&t.sent)
}

// Shutdown disconnects from the broker
func (t *TransportSink) Shutdown() {
	t.pub.Disconnect()
}

/*Package imgout routes the frames of an exposure to their destination.

A Sink has the lifecycle of a file: Open, any number of WriteImage calls, and
Close.  DiskSink writes FITS files with a fitscube.Writer.  TransportSink
publishes the exposure over a message broker, in the same extension order a
file would have.  New selects one by name.
*/
package imgout

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.jpl.nasa.gov/bdube/camerad/camera"
	"github.jpl.nasa.gov/bdube/camerad/fitscube"
)

// Sink receives the frames of one exposure at a time
type Sink interface {
	// Open begins an exposure.  The user keys are written now if writeKeys
	// is true.
	Open(writeKeys bool, info *camera.Information) error

	// Close ends the exposure.  The user keys are written now if writeKeys
	// is true.
	Close(writeKeys bool, info *camera.Information) error

	// IsOpen is true between Open and Close
	IsOpen() bool

	// WriteImage delivers one frame.  It may be called concurrently, in any
	// order of frame index.
	WriteImage(ctx context.Context, f *fitscube.Frame, info *camera.Information) error
}

// Status is the numeric result reported to clients
type Status int

const (
	// Nothing means no response is expected
	Nothing Status = -1

	// NoError means success
	NoError Status = 0

	// Error means failure
	Error Status = 1

	// Busy means the request conflicts with one in progress
	Busy Status = 2

	// Timeout means the caller's deadline passed
	Timeout Status = 3
)

func (s Status) String() string {
	switch s {
	case Nothing:
		return "NOTHING"
	case NoError:
		return "NO_ERROR"
	case Error:
		return "ERROR"
	case Busy:
		return "BUSY"
	case Timeout:
		return "TIMEOUT"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

var (
	// ErrBusy is generated when an exposure is already in progress
	ErrBusy = errors.New("exposure in progress")

	// ErrUnknownKind is generated by New for an unknown sink name
	ErrUnknownKind = errors.New("unknown image output")

	// ErrNotOpen is generated when a frame arrives with no exposure open
	ErrNotOpen = errors.New("no exposure open")

	// ErrPublish is generated when the broker did not accept a message
	ErrPublish = errors.New("unable to publish message")
)

// StatusOf maps an error to the status reported to clients.  Waits for the
// extension sequence that ran out are errors of the exposure, not timeouts of
// the caller.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return NoError
	case errors.Is(err, fitscube.ErrTimeout):
		return Error
	case errors.Is(err, ErrBusy), errors.Is(err, fitscube.ErrAlreadyOpen):
		return Busy
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}
	return Error
}

// Config configures a sink made by New
type Config struct {
	// Logger receives log lines.  nil uses the standard logger.
	Logger *log.Logger

	// Debug enables verbose logging
	Debug bool

	// Stall and Deadline bound the waits for the extension sequence,
	// see fitscube.Config
	Stall    time.Duration
	Deadline time.Duration

	// Broker is the address of the MQTT broker, host:port
	Broker string

	// ClientID identifies this server to the broker
	ClientID string

	// Topic is the root of the topics published to
	Topic string

	// QoS is the MQTT quality of service of published messages
	QoS byte
}

// New returns the sink named kind: "disk", or "mqtt" (alias "transport")
func New(kind string, cfg Config) (Sink, error) {
	switch strings.ToLower(kind) {
	case "disk", "":
		w := fitscube.New(fitscube.Config{Logger: cfg.Logger, Debug: cfg.Debug, Stall: cfg.Stall, Deadline: cfg.Deadline})
		return NewDisk(w), nil
	case "mqtt", "transport":
		pub := &MQTT{Broker: cfg.Broker, ClientID: cfg.ClientID, QoS: cfg.QoS, Logger: cfg.Logger}
		return NewTransport(pub, cfg), nil
	}
	return nil, errors.Wrapf(ErrUnknownKind, "%q, expected disk or mqtt", kind)
}

func logf(l *log.Logger, format string, args ...interface{}) {
	if l != nil {
		l.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

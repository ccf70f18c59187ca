package fitscube

import (
	"fmt"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	"github.jpl.nasa.gov/bdube/camerad/fitskeys"
)

// Datatype is the pixel type of the images in a file
type Datatype int

const (
	// UInt16 pixels are stored as 16-bit signed integers with BZERO=32768
	UInt16 Datatype = iota

	// Int16 pixels are stored as 16-bit signed integers
	Int16

	// Int32 pixels are stored as 32-bit signed integers
	Int32

	// Float32 pixels are stored as IEEE single precision floats
	Float32
)

// Bitpix is the FITS BITPIX value for the type
func (d Datatype) Bitpix() int {
	switch d {
	case Int32:
		return 32
	case Float32:
		return -32
	default:
		return 16
	}
}

func (d Datatype) String() string {
	switch d {
	case UInt16:
		return "uint16"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	}
	return fmt.Sprintf("Datatype(%d)", int(d))
}

// ParseDatatype converts the configuration spelling of a type to a Datatype
func ParseDatatype(s string) (Datatype, error) {
	switch s {
	case "uint16", "ushort", "":
		return UInt16, nil
	case "int16", "short":
		return Int16, nil
	case "int32", "long":
		return Int32, nil
	case "float32", "float":
		return Float32, nil
	}
	return UInt16, fmt.Errorf("unknown datatype %q, expected one of uint16, int16, int32, float32", s)
}

// scaleCards are BZERO and BSCALE for the type
func (d Datatype) scaleCards() []fitsio.Card {
	if d == UInt16 {
		return []fitsio.Card{
			{Name: "BZERO", Value: 32768, Comment: "offset for signed short int"},
			{Name: "BSCALE", Value: 1.0, Comment: "scaling factor"}}
	}
	return []fitsio.Card{
		{Name: "BZERO", Value: 0.0, Comment: "offset"},
		{Name: "BSCALE", Value: 1.0, Comment: "scaling factor"}}
}

// Shape describes the images of a file
type Shape struct {
	// Cube selects multi-extension mode.  The primary HDU holds no data and
	// every frame becomes an image extension.
	Cube bool

	// Cols and Rows are the image axes, NAXIS1 and NAXIS2
	Cols int
	Rows int

	// Datatype is the pixel type
	Datatype Datatype
}

// Pixels is the number of pixels in one image
func (s Shape) Pixels() int {
	return s.Cols * s.Rows
}

// Region is a pixel sub-region, 1-based and inclusive, as used by AMPSEC
type Region struct {
	X1, X2, Y1, Y2 int
}

// String formats the region in FITS section notation, [x1:x2,y1:y2]
func (r Region) String() string {
	return fmt.Sprintf("[%d:%d,%d:%d]", r.X1, r.X2, r.Y1, r.Y2)
}

// Keywords are the keyword databases used to populate headers.
// Any of them may be nil.
type Keywords struct {
	// System keys are always written to the primary header at open
	System *fitskeys.DB

	// User keys are written to the primary header at open or close, as requested
	User *fitskeys.DB

	// Extension keys are written to every image extension
	Extension *fitskeys.DB
}

// Trailer holds the exposure times written to the primary header on close
type Trailer struct {
	// Start is the exposure start time
	Start time.Time

	// Stop is the exposure stop time
	Stop time.Time

	// Command is the time the expose command was received
	Command time.Time

	// Aborted is true if the exposure was aborted
	Aborted bool
}

// Frame is one image handed to a data cube writer
type Frame struct {
	// Data is the pixel buffer, one of []uint16, []int16, []int32, []float32
	// matching the datatype of the file.  It is copied before Submit returns.
	Data interface{}

	// Index is the extension number, starting at zero
	Index int

	// AmpSec is the amplifier section of this frame.  May be nil.
	AmpSec *Region

	// Keys are extra keywords for this extension only.  May be nil.
	Keys *fitskeys.DB
}

// timestampFormat is how times are written in DATE keywords
const timestampFormat = "2006-01-02T15:04:05.000000"

func timestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

// copyPixels copies data into a new buffer in its storage representation.
// uint16 data are shifted into int16 range, to be read back with BZERO=32768.
func copyPixels(data interface{}, d Datatype) (interface{}, int, error) {
	switch v := data.(type) {
	case []uint16:
		if d != UInt16 {
			break
		}
		out := make([]int16, len(v))
		for i := range v {
			out[i] = int16(v[i] - 32768)
		}
		return out, len(out), nil
	case []int16:
		if d != Int16 {
			break
		}
		out := make([]int16, len(v))
		copy(out, v)
		return out, len(out), nil
	case []int32:
		if d != Int32 {
			break
		}
		out := make([]int32, len(v))
		copy(out, v)
		return out, len(out), nil
	case []float32:
		if d != Float32 {
			break
		}
		out := make([]float32, len(v))
		copy(out, v)
		return out, len(out), nil
	default:
		return nil, 0, errors.Errorf("unsupported pixel buffer %T", data)
	}
	return nil, 0, errors.Errorf("pixel buffer %T does not match file datatype %s", data, d)
}

// blankPixels allocates a zero valued image in storage representation
func blankPixels(d Datatype, n int) interface{} {
	switch d {
	case Int16:
		return make([]int16, n)
	case Int32:
		return make([]int32, n)
	case Float32:
		return make([]float32, n)
	}
	out := make([]int16, n)
	for i := range out {
		out[i] = -32768
	}
	return out
}

// copyInto copies src into dst starting at element off.  Both must be the
// same storage type.
func copyInto(dst, src interface{}, off int) error {
	switch d := dst.(type) {
	case []int16:
		s, ok := src.([]int16)
		if ok {
			copy(d[off:], s)
			return nil
		}
	case []int32:
		s, ok := src.([]int32)
		if ok {
			copy(d[off:], s)
			return nil
		}
	case []float32:
		s, ok := src.([]float32)
		if ok {
			copy(d[off:], s)
			return nil
		}
	}
	return errors.Errorf("cannot copy %T into %T", src, dst)
}

/*Package camera describes exposures and the producers of their frames.

An Information value travels with an exposure from the server to the image
sinks.  It holds everything a sink needs to name, shape and annotate the file:
the image name, the geometry, the keyword databases and the exposure times.

A FrameSource produces the frames of an exposure.  The emulator package
contains one that synthesizes images.
*/
package camera

import (
	"context"
	"fmt"
	"time"

	"github.jpl.nasa.gov/bdube/camerad/fitscube"
	"github.jpl.nasa.gov/bdube/camerad/fitskeys"
)

// Information describes one exposure
type Information struct {
	// ImageName is the file or stream name of the exposure
	ImageName string

	// Detector is the name of the detector, written as DETECTOR
	Detector string

	// Cols and Rows are the size of one frame in pixels
	Cols int
	Rows int

	// Datatype is the pixel type of the frames
	Datatype fitscube.Datatype

	// Cube is true if every frame is written to its own extension
	Cube bool

	// Frames is the number of frames in the exposure
	Frames int

	// ExposureTime is the integration time of each frame
	ExposureTime time.Duration

	// AmpSections are the amplifier regions of the detector.  Frame k is
	// read through amplifier k modulo len(AmpSections).
	AmpSections []fitscube.Region

	// SystemKeys, UserKeys and ExtensionKeys are copied to the headers.
	// See fitscube.Keywords.
	SystemKeys    *fitskeys.DB
	UserKeys      *fitskeys.DB
	ExtensionKeys *fitskeys.DB

	// Command, Start and Stop are when the expose command was received,
	// when the exposure started and when it ended
	Command time.Time
	Start   time.Time
	Stop    time.Time

	// Aborted is true if the exposure was stopped early
	Aborted bool
}

// Shape is the file shape of the exposure
func (i *Information) Shape() fitscube.Shape {
	return fitscube.Shape{Cube: i.Cube, Cols: i.Cols, Rows: i.Rows, Datatype: i.Datatype}
}

// Keywords are the keyword databases of the exposure
func (i *Information) Keywords() fitscube.Keywords {
	return fitscube.Keywords{System: i.SystemKeys, User: i.UserKeys, Extension: i.ExtensionKeys}
}

// Trailer are the times written to the header when the file is closed
func (i *Information) Trailer() *fitscube.Trailer {
	return &fitscube.Trailer{Start: i.Start, Stop: i.Stop, Command: i.Command, Aborted: i.Aborted}
}

// AmpSec is the amplifier section of frame k, nil if there are none
func (i *Information) AmpSec(k int) *fitscube.Region {
	if len(i.AmpSections) == 0 || k < 0 {
		return nil
	}
	r := i.AmpSections[k%len(i.AmpSections)]
	return &r
}

// Validate returns an error if the information cannot describe a file
func (i *Information) Validate() error {
	if i.ImageName == "" {
		return fmt.Errorf("no image name")
	}
	if i.Cols <= 0 || i.Rows <= 0 {
		return fmt.Errorf("frame size %dx%d", i.Cols, i.Rows)
	}
	if i.Frames < 1 {
		return fmt.Errorf("%d frames", i.Frames)
	}
	if !i.Cube && i.Frames > 1 {
		return fmt.Errorf("%d frames do not fit a single image file, use a data cube", i.Frames)
	}
	return nil
}

// Quadrants splits a cols x rows detector into nx by ny equal amplifier
// sections, row major from the lower left.  Remainder pixels go to the last
// row and column.
func Quadrants(cols, rows, nx, ny int) []fitscube.Region {
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}
	w, h := cols/nx, rows/ny
	out := make([]fitscube.Region, 0, nx*ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			r := fitscube.Region{X1: x*w + 1, X2: (x + 1) * w, Y1: y*h + 1, Y2: (y + 1) * h}
			if x == nx-1 {
				r.X2 = cols
			}
			if y == ny-1 {
				r.Y2 = rows
			}
			out = append(out, r)
		}
	}
	return out
}

// FrameSource produces the frames of an exposure
type FrameSource interface {
	// Expose produces info.Frames frames, calling emit with each one in
	// index order.  It returns early if ctx is done or emit returns an error.
	Expose(ctx context.Context, info *Information, emit func(*fitscube.Frame) error) error
}

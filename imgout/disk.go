package imgout

import (
	"context"

	"github.jpl.nasa.gov/bdube/camerad/camera"
	"github.jpl.nasa.gov/bdube/camerad/fitscube"
)

// DiskSink writes exposures to FITS files
type DiskSink struct {
	W *fitscube.Writer
}

// NewDisk returns a sink writing with w
func NewDisk(w *fitscube.Writer) *DiskSink {
	return &DiskSink{W: w}
}

// Open creates the file info.ImageName
func (d *DiskSink) Open(writeKeys bool, info *camera.Information) error {
	if err := info.Validate(); err != nil {
		return err
	}
	return d.W.Open(info.ImageName, info.Shape(), info.Keywords(), writeKeys)
}

// Close finishes the file with the exposure times of info
func (d *DiskSink) Close(writeKeys bool, info *camera.Information) error {
	return d.W.Close(writeKeys, info.UserKeys, info.Trailer())
}

// IsOpen is true while a file is open
func (d *DiskSink) IsOpen() bool {
	return d.W.IsOpen()
}

// WriteImage writes the frame and waits for it to be on disk.  A frame
// without an amplifier section is written with the one of info; f itself is
// not modified.
func (d *DiskSink) WriteImage(ctx context.Context, f *fitscube.Frame, info *camera.Information) error {
	if f.AmpSec == nil && info != nil {
		g := *f
		g.AmpSec = info.AmpSec(f.Index)
		f = &g
	}
	return d.W.Write(ctx, f)
}

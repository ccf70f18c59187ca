/*Package emulator is a camera that makes up its images.

It produces frames of a bias level with noise and a ramp that grows with the
frame index, so the frames of a sequence can be told apart once written.
Frames are paced by the exposure time, a readout time, and an optional frame
rate limit.
*/
package emulator

import (
	"context"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/camerad/camera"
	"github.jpl.nasa.gov/bdube/camerad/fitscube"
	"github.jpl.nasa.gov/bdube/camerad/util"
)

// Emulator is a synthetic camera.  The zero value produces frames as fast as
// the exposure time allows.
type Emulator struct {
	// FrameRate caps the frames per second.  Zero means no cap.
	FrameRate float64

	// Readout is added to the exposure time of every frame
	Readout time.Duration

	// Bias is the level of an unexposed pixel
	Bias float64

	// Noise is the standard deviation of the pixel noise
	Noise float64

	// Step is the increase of the signal from one frame to the next
	Step float64

	// Seed seeds the noise.  Zero uses the time.
	Seed int64

	// Logger receives log lines.  nil uses the standard logger.
	Logger *log.Logger

	frames uint64
}

// Frames is the number of frames produced over the life of the emulator
func (e *Emulator) Frames() uint64 {
	return atomic.LoadUint64(&e.frames)
}

func (e *Emulator) limiter() *rate.Limiter {
	if e.FrameRate <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(e.FrameRate), 1)
}

// Expose makes info.Frames frames, waiting for each to be exposed and read
// out before handing it to emit
func (e *Emulator) Expose(ctx context.Context, info *camera.Information, emit func(*fitscube.Frame) error) error {
	if err := info.Validate(); err != nil {
		return err
	}
	lim := e.limiter()
	seed := e.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	for k := 0; k < info.Frames; k++ {
		if err := lim.Wait(ctx); err != nil {
			return errors.Wrapf(err, "waiting to expose frame %d", k)
		}
		if d := info.ExposureTime + e.Readout; d > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
		f := &fitscube.Frame{Data: e.synthesize(info, k, rng), Index: k, AmpSec: info.AmpSec(k)}
		atomic.AddUint64(&e.frames, 1)
		if err := emit(f); err != nil {
			return err
		}
	}
	return nil
}

// level is the value of pixel i of frame k before noise
func (e *Emulator) level(info *camera.Information, k, i int) float64 {
	col := i % info.Cols
	return e.Bias + e.Step*float64(k+1) + float64(col)/float64(info.Cols)
}

func (e *Emulator) synthesize(info *camera.Information, k int, rng *rand.Rand) interface{} {
	n := info.Cols * info.Rows
	px := func(i int) float64 {
		return e.level(info, k, i) + e.Noise*rng.NormFloat64()
	}
	switch info.Datatype {
	case fitscube.Int16:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(util.Clamp(px(i), -32768, 32767))
		}
		return out
	case fitscube.Int32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(util.Clamp(px(i), -2147483648, 2147483647))
		}
		return out
	case fitscube.Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(px(i))
		}
		return out
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(util.Clamp(px(i), 0, 65535))
	}
	return out
}

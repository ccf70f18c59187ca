// Command cubewrite writes a FITS data cube of emulated frames.  It is a
// quick check of the disk path of camerad without a server.
package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"
	"github.com/theckman/yacspin"

	"github.jpl.nasa.gov/bdube/camerad/camera"
	"github.jpl.nasa.gov/bdube/camerad/emulator"
	"github.jpl.nasa.gov/bdube/camerad/fitscube"
	"github.jpl.nasa.gov/bdube/camerad/fitskeys"
	"github.jpl.nasa.gov/bdube/camerad/imgout"
	"github.jpl.nasa.gov/bdube/camerad/server/camerad"
	"github.jpl.nasa.gov/bdube/camerad/util"
)

type options struct {
	out      string
	frames   int
	cols     int
	rows     int
	datatype string
	exptime  float64
	rate     float64
	ampsX    int
	ampsY    int
	keys     []string
	verbose  bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var o options
	flagSet := pflag.NewFlagSet("cubewrite", pflag.ContinueOnError)
	flagSet.StringVarP(&o.out, "out", "o", "cube.fits", "file to write")
	flagSet.IntVarP(&o.frames, "frames", "n", 10, "number of frames")
	flagSet.IntVar(&o.cols, "cols", 512, "frame width")
	flagSet.IntVar(&o.rows, "rows", 512, "frame height")
	flagSet.StringVar(&o.datatype, "datatype", "uint16", "pixel type, one of uint16, int16, int32, float32")
	flagSet.Float64Var(&o.exptime, "exptime", 0, "exposure time of each frame in seconds")
	flagSet.Float64Var(&o.rate, "rate", 0, "frame rate limit in Hz, 0 for none")
	flagSet.IntVar(&o.ampsX, "amps-x", 2, "amplifier sections along x")
	flagSet.IntVar(&o.ampsY, "amps-y", 2, "amplifier sections along y")
	flagSet.StringArrayVarP(&o.keys, "key", "k", nil, "user keyword, KEYWORD=VALUE//COMMENT, may be repeated")
	flagSet.BoolVarP(&o.verbose, "verbose", "v", false, "log the writer's progress")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	return write(o)
}

func write(o options) error {
	dt, err := fitscube.ParseDatatype(o.datatype)
	if err != nil {
		return err
	}
	logger := log.New(ioutil.Discard, "", 0)
	if o.verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	user := fitskeys.New()
	user.Logger = logger
	for _, k := range o.keys {
		if err := user.Add(k); err != nil {
			return fmt.Errorf("keyword %q: %w", k, err)
		}
	}

	w := fitscube.New(fitscube.Config{Logger: logger, Debug: o.verbose})
	det := camerad.Detector{Name: "EMULATOR", Cols: o.cols, Rows: o.rows, Datatype: dt.String(), AmpsX: o.ampsX, AmpsY: o.ampsY}
	s := camerad.New(imgout.NewDisk(w), &emulator.Emulator{FrameRate: o.rate, Bias: 1000, Noise: 5, Step: 10}, nil, det)
	s.Logger = logger
	s.UserKeys = user

	sys := fitskeys.New()
	sys.AddKey("EXPTIME", o.exptime, "exposure time (s)")
	info := &camera.Information{
		ImageName:    o.out,
		Detector:     det.Name,
		Cols:         o.cols,
		Rows:         o.rows,
		Datatype:     dt,
		Cube:         true,
		Frames:       o.frames,
		ExposureTime: util.SecsToDuration(o.exptime),
		AmpSections:  camera.Quadrants(o.cols, o.rows, o.ampsX, o.ampsY),
		SystemKeys:   sys,
		UserKeys:     user,
		Command:      time.Now(),
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " writing " + o.out,
		SuffixAutoColon:   true,
		StopCharacter:     "done",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "failed",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}
	if err := spinner.Start(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				spinner.Message(fmt.Sprintf("%d/%d frames", w.Extensions(), o.frames))
			}
		}
	}()

	start := time.Now()
	err = s.Expose(ctx, info)
	close(done)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		return err
	}
	spinner.StopMessage(fmt.Sprintf("%d frames in %v", o.frames, time.Since(start).Round(time.Millisecond)))
	return spinner.Stop()
}

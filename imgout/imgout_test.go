package imgout_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/camerad/camera"
	"github.jpl.nasa.gov/bdube/camerad/fitscube"
	"github.jpl.nasa.gov/bdube/camerad/imgout"
)

type message struct {
	topic   string
	payload []byte
}

// recorder is a Publisher that keeps what it was sent
type recorder struct {
	mu        sync.Mutex
	msgs      []message
	failFrame int
	connects  int
}

func (r *recorder) Connect() error {
	r.mu.Lock()
	r.connects++
	r.mu.Unlock()
	return nil
}

func (r *recorder) Publish(topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if topic == "cam/frame" && r.failFrame >= 0 {
		var f imgout.FrameMessage
		imgout.Unmarshal(payload, &f)
		if f.Index == r.failFrame {
			return imgout.ErrPublish
		}
	}
	r.msgs = append(r.msgs, message{topic, payload})
	return nil
}

func (r *recorder) Disconnect() {}

func quiet() *log.Logger {
	return log.New(ioutil.Discard, "", 0)
}

func exposure(name string, n int) *camera.Information {
	return &camera.Information{
		ImageName:   name,
		Cols:        8,
		Rows:        4,
		Datatype:    fitscube.UInt16,
		Cube:        true,
		Frames:      n,
		AmpSections: camera.Quadrants(8, 4, 2, 1),
	}
}

func frame(k int) *fitscube.Frame {
	data := make([]uint16, 32)
	for i := range data {
		data[i] = uint16(1000 + k)
	}
	return &fitscube.Frame{Data: data, Index: k}
}

func ExampleStatusOf() {
	fmt.Println(imgout.StatusOf(nil))
	fmt.Println(imgout.StatusOf(fitscube.ErrTimeout))
	fmt.Println(imgout.StatusOf(imgout.ErrBusy))
	fmt.Println(imgout.StatusOf(context.DeadlineExceeded))
	// Output:
	// NO_ERROR
	// ERROR
	// BUSY
	// TIMEOUT
}

func TestStatusValues(t *testing.T) {
	got := []int{int(imgout.NoError), int(imgout.Error), int(imgout.Busy), int(imgout.Timeout), int(imgout.Nothing)}
	if diff := cmp.Diff([]int{0, 1, 2, 3, -1}, got); diff != "" {
		t.Errorf("status codes (-want +got):\n%s", diff)
	}
}

func TestNew(t *testing.T) {
	s, err := imgout.New("disk", imgout.Config{Logger: quiet()})
	if _, ok := s.(*imgout.DiskSink); !ok || err != nil {
		t.Errorf("New(disk) = %T, %v", s, err)
	}
	s, err = imgout.New("MQTT", imgout.Config{Logger: quiet()})
	if _, ok := s.(*imgout.TransportSink); !ok || err != nil {
		t.Errorf("New(MQTT) = %T, %v", s, err)
	}
	if _, err = imgout.New("tape", imgout.Config{}); !errors.Is(err, imgout.ErrUnknownKind) {
		t.Errorf("New(tape) = %v, expected ErrUnknownKind", err)
	}
}

func TestTransportPublishesInOrder(t *testing.T) {
	pub := &recorder{failFrame: -1}
	sink := imgout.NewTransport(pub, imgout.Config{Topic: "cam", Logger: quiet(), Stall: time.Second})
	const n = 12
	info := exposure("seq.fits", n)
	if err := sink.Open(false, info); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for _, k := range rand.Perm(n) {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			if err := sink.WriteImage(context.Background(), frame(k), info); err != nil {
				t.Errorf("WriteImage(%d): %v", k, err)
			}
		}(k)
	}
	wg.Wait()
	if err := sink.Close(false, info); err != nil {
		t.Fatal(err)
	}

	if len(pub.msgs) != n+2 || pub.msgs[0].topic != "cam/open" || pub.msgs[n+1].topic != "cam/close" {
		t.Fatalf("expected open, %d frames, close; got %d messages", n, len(pub.msgs))
	}
	var open imgout.OpenMessage
	if err := imgout.Unmarshal(pub.msgs[0].payload, &open); err != nil {
		t.Fatal(err)
	}
	for k := 0; k < n; k++ {
		var f imgout.FrameMessage
		if err := imgout.Unmarshal(pub.msgs[k+1].payload, &f); err != nil {
			t.Fatal(err)
		}
		if f.Index != k || f.Extname != fmt.Sprint(k+1) || f.Sequence != open.Sequence {
			t.Fatalf("message %d holds frame %d (%s) of %s", k+1, f.Index, f.Extname, f.Sequence)
		}
		raw, err := imgout.Decompress(f.Data)
		if err != nil {
			t.Fatal(err)
		}
		if len(raw) != 64 || int(int16(binary.BigEndian.Uint16(raw)))+32768 != 1000+k {
			t.Errorf("frame %d pixels decode wrong: %d bytes", k, len(raw))
		}
		want := info.AmpSec(k).String()
		if f.AmpSec != want {
			t.Errorf("frame %d AMPSEC %q, expected %q", k, f.AmpSec, want)
		}
	}
	var cl imgout.CloseMessage
	imgout.Unmarshal(pub.msgs[n+1].payload, &cl)
	if cl.Frames != n || cl.Sequence != open.Sequence {
		t.Errorf("close message %+v", cl)
	}
	if sink.IsOpen() || sink.Sent() != n {
		t.Errorf("open=%v sent=%d after close", sink.IsOpen(), sink.Sent())
	}
}

func TestTransportFailureStalls(t *testing.T) {
	pub := &recorder{failFrame: 1}
	sink := imgout.NewTransport(pub, imgout.Config{Topic: "cam", Logger: quiet(), Stall: 100 * time.Millisecond})
	info := exposure("fail.fits", 3)
	if err := sink.Open(false, info); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := sink.WriteImage(ctx, frame(0), info); err != nil {
		t.Fatal(err)
	}
	if err := sink.WriteImage(ctx, frame(1), info); !errors.Is(err, imgout.ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	if !sink.Failed() {
		t.Error("failure not recorded")
	}
	if err := sink.WriteImage(ctx, frame(2), info); !errors.Is(err, fitscube.ErrTimeout) {
		t.Errorf("frame after failure: expected ErrTimeout, got %v", err)
	}
	if err := sink.Open(false, info); !errors.Is(err, imgout.ErrBusy) {
		t.Errorf("second Open = %v, expected ErrBusy", err)
	}
	sink.Close(false, info)
	if err := sink.Close(false, info); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestDiskSink(t *testing.T) {
	w := fitscube.New(fitscube.Config{Logger: quiet()})
	sink := imgout.NewDisk(w)
	path := filepath.Join(t.TempDir(), "disk.fits")
	info := exposure(path, 2)
	if err := sink.Open(true, info); err != nil {
		t.Fatal(err)
	}
	for k := 0; k < 2; k++ {
		f := frame(k)
		if err := sink.WriteImage(context.Background(), f, info); err != nil {
			t.Fatal(err)
		}
		if f.AmpSec != nil {
			t.Errorf("WriteImage set AmpSec %v on the caller's frame %d", f.AmpSec, k)
		}
	}
	info.Start = time.Now()
	info.Stop = time.Now()
	if err := sink.Close(false, info); err != nil {
		t.Fatal(err)
	}
	if sink.IsOpen() {
		t.Error("sink open after close")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file missing after close: %v", err)
	}
	if st := w.Stats(); st.Frames != 2 {
		t.Errorf("writer counted %d frames", st.Frames)
	}
}

func TestTransportRejectsDuplicateFrame(t *testing.T) {
	pub := &recorder{failFrame: -1}
	sink := imgout.NewTransport(pub, imgout.Config{Topic: "cam", Logger: quiet(), Stall: time.Second})
	info := exposure("dup.fits", 2)
	if err := sink.Open(false, info); err != nil {
		t.Fatal(err)
	}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = sink.WriteImage(context.Background(), frame(0), info)
		}(i)
	}
	wg.Wait()
	if (errs[0] == nil) == (errs[1] == nil) {
		t.Fatalf("expected exactly one write of frame 0 to succeed, got %v", errs)
	}
	for _, err := range errs {
		if err != nil && !errors.Is(err, fitscube.ErrWrite) {
			t.Errorf("duplicate frame: expected ErrWrite, got %v", err)
		}
	}
	if err := sink.WriteImage(context.Background(), frame(0), info); !errors.Is(err, fitscube.ErrWrite) {
		t.Errorf("frame 0 after it was published: expected ErrWrite, got %v", err)
	}
	if err := sink.WriteImage(context.Background(), frame(1), info); err != nil {
		t.Fatal(err)
	}
	if sink.Sent() != 2 || len(pub.msgs) != 3 {
		t.Errorf("sent %d frames in %d messages, expected 2 in 3", sink.Sent(), len(pub.msgs))
	}
	if err := sink.Close(false, info); err != nil {
		t.Fatal(err)
	}
}

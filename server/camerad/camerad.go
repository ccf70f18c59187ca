/*Package camerad is the HTTP control surface of the camera server.

An exposure request names a number of frames and an exposure time.  The
server picks the file name from its recorder, opens the image sink, lets the
frame source produce the frames and hands each one to the sink on its own
goroutine, then closes the sink.  The routes other than status, abort and
lock are locked while an exposure runs.
*/
package camerad

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.jpl.nasa.gov/bdube/camerad/camera"
	"github.jpl.nasa.gov/bdube/camerad/fitscube"
	"github.jpl.nasa.gov/bdube/camerad/fitskeys"
	"github.jpl.nasa.gov/bdube/camerad/imgout"
	"github.jpl.nasa.gov/bdube/camerad/imgrec"
	"github.jpl.nasa.gov/bdube/camerad/server"
	"github.jpl.nasa.gov/bdube/camerad/server/middleware/locker"
	"github.jpl.nasa.gov/bdube/camerad/util"
)

// Detector is the fixed geometry of the camera
type Detector struct {
	// Name is written to the DETECTOR keyword
	Name string `yaml:"Name"`

	// Cols and Rows are the frame size
	Cols int `yaml:"Cols"`
	Rows int `yaml:"Rows"`

	// Datatype is one of uint16, int16, int32, float32
	Datatype string `yaml:"Datatype"`

	// AmpsX and AmpsY are the number of amplifier sections along each axis
	AmpsX int `yaml:"AmpsX"`
	AmpsY int `yaml:"AmpsY"`
}

// ExposeRequest is the body of POST /expose
type ExposeRequest struct {
	// Frames is the number of frames, at least 1
	Frames int `json:"frames"`

	// ExpTime is the exposure time of each frame in seconds
	ExpTime float64 `json:"exptime"`

	// Cube writes every frame to its own extension.  Exposures of more
	// than one frame are always cubes.
	Cube bool `json:"cube"`

	// Name overrides the recorder's file name
	Name string `json:"name,omitempty"`

	// Wait holds the response until the exposure is finished
	Wait bool `json:"wait"`
}

// Result describes the last exposure
type Result struct {
	Name   string    `json:"name"`
	Status string    `json:"status"`
	Code   int       `json:"code"`
	Error  string    `json:"error,omitempty"`
	Frames int       `json:"frames"`
	Start  time.Time `json:"start"`
	Stop   time.Time `json:"stop"`
}

// Status is the body of GET /status
type Status struct {
	Running bool    `json:"running"`
	Open    bool    `json:"open"`
	Current string  `json:"current,omitempty"`
	Last    *Result `json:"last,omitempty"`
}

// Server runs exposures
type Server struct {
	// Sink receives the frames
	Sink imgout.Sink

	// Source produces the frames
	Source camera.FrameSource

	// Recorder names the files
	Recorder *imgrec.Recorder

	// Detector is the geometry of the frames
	Detector Detector

	// SystemKeys, UserKeys and ExtensionKeys are the keyword databases.
	// UserKeys is manipulated over HTTP.
	SystemKeys    *fitskeys.DB
	UserKeys      *fitskeys.DB
	ExtensionKeys *fitskeys.DB

	// Logger receives log lines.  nil uses the standard logger.
	Logger *log.Logger

	lock *locker.Locker

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	current string
	last    *Result

	exposures uint64
	failures  uint64

	rt server.RouteTable
}

// New returns a server.  Nil keyword databases are replaced with empty ones.
func New(sink imgout.Sink, src camera.FrameSource, rec *imgrec.Recorder, det Detector) *Server {
	s := &Server{
		Sink:          sink,
		Source:        src,
		Recorder:      rec,
		Detector:      det,
		SystemKeys:    fitskeys.New(),
		UserKeys:      fitskeys.New(),
		ExtensionKeys: fitskeys.New(),
		lock:          locker.New(),
	}
	s.lock.DoNotProtect = append(s.lock.DoNotProtect, "status", "abort", "last", "endpoints")
	s.rt = server.RouteTable{
		{Method: http.MethodGet, Path: "/keys"}:          s.HTTPListKeys,
		{Method: http.MethodPost, Path: "/keys"}:         s.HTTPAddKey,
		{Method: http.MethodDelete, Path: "/keys"}:       s.HTTPEraseKeys,
		{Method: http.MethodDelete, Path: "/keys/{key}"}: s.HTTPDeleteKey,
		{Method: http.MethodPost, Path: "/expose"}:       s.HTTPExpose,
		{Method: http.MethodPost, Path: "/abort"}:        s.HTTPAbort,
		{Method: http.MethodGet, Path: "/status"}:        s.HTTPStatus,
		{Method: http.MethodGet, Path: "/last"}:          s.HTTPLast,
	}
	locker.Inject(s, s.lock)
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(s)
	}
	return s
}

// RT returns the route table of the server
func (s *Server) RT() server.RouteTable {
	return s.rt
}

// Router returns a chi router with the routes of the server behind the lock
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.lock.Check)
	s.rt.Bind(r)
	return r
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// information describes the exposure of req written to name
func (s *Server) information(req ExposeRequest, name string) (*camera.Information, error) {
	dt, err := fitscube.ParseDatatype(s.Detector.Datatype)
	if err != nil {
		return nil, err
	}
	sys := fitskeys.New()
	sys.Merge(s.SystemKeys)
	if s.Detector.Name != "" {
		sys.AddKey("DETECTOR", s.Detector.Name, "detector name")
	}
	sys.AddKey("EXPTIME", req.ExpTime, "exposure time (s)")
	sys.AddKey("NFRAMES", req.Frames, "number of frames")
	info := &camera.Information{
		ImageName:     name,
		Detector:      s.Detector.Name,
		Cols:          s.Detector.Cols,
		Rows:          s.Detector.Rows,
		Datatype:      dt,
		Cube:          req.Cube || req.Frames > 1,
		Frames:        req.Frames,
		ExposureTime:  util.SecsToDuration(req.ExpTime),
		AmpSections:   camera.Quadrants(s.Detector.Cols, s.Detector.Rows, s.Detector.AmpsX, s.Detector.AmpsY),
		SystemKeys:    sys,
		UserKeys:      s.UserKeys,
		ExtensionKeys: s.ExtensionKeys,
		Command:       time.Now(),
	}
	return info, info.Validate()
}

// Expose runs one exposure to completion.  The context stops the frame
// source; frames already produced are still written and the file is closed.
func (s *Server) Expose(ctx context.Context, info *camera.Information) error {
	const fn = "camerad.Server.Expose"
	if err := s.Sink.Open(false, info); err != nil {
		return err
	}
	info.Start = time.Now()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		writeErr error
		failed   int32
	)
	err := s.Source.Expose(ctx, info, func(f *fitscube.Frame) error {
		if atomic.LoadInt32(&failed) == 1 {
			return writeErr
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Sink.WriteImage(context.Background(), f, info); err != nil {
				once.Do(func() {
					writeErr = err
					atomic.StoreInt32(&failed, 1)
				})
			}
		}()
		return nil
	})
	wg.Wait()
	info.Stop = time.Now()
	info.Aborted = ctx.Err() != nil

	if cerr := s.Sink.Close(true, info); cerr != nil {
		s.logf("%s: closing %s: %v", fn, info.ImageName, cerr)
		if err == nil {
			err = cerr
		}
	}
	if writeErr != nil {
		err = writeErr
	}
	if info.Aborted && errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// start begins an exposure in the background.  It returns the file name and
// a channel closed when the exposure is over.
func (s *Server) start(req ExposeRequest) (string, <-chan struct{}, error) {
	if !s.lock.TryLock() {
		return "", nil, imgout.ErrBusy
	}
	name := req.Name
	var err error
	if name == "" {
		if s.Recorder == nil {
			err = errors.New("no file name given and no recorder configured")
		} else {
			name, err = s.Recorder.Next()
		}
	}
	var info *camera.Information
	if err == nil {
		info, err = s.information(req, name)
	}
	if err != nil {
		s.lock.Unlock()
		return "", nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.current = name
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer s.lock.Unlock()
		defer cancel()
		s.logf("camerad: exposing %d frames of %v to %s", info.Frames, info.ExposureTime, name)
		err := s.Expose(ctx, info)
		res := &Result{Name: name, Frames: info.Frames, Start: info.Start, Stop: info.Stop}
		st := imgout.StatusOf(err)
		res.Status, res.Code = st.String(), int(st)
		if err != nil {
			res.Error = err.Error()
			atomic.AddUint64(&s.failures, 1)
			s.logf("camerad: exposure %s failed: %v", name, err)
		}
		atomic.AddUint64(&s.exposures, 1)
		s.mu.Lock()
		s.last = res
		s.current = ""
		s.cancel = nil
		s.mu.Unlock()
	}()
	return name, done, nil
}

// Abort stops the running exposure, if any
func (s *Server) Abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Wait blocks until the running exposure, if any, is over
func (s *Server) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status reports the state of the server
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.current != "", Open: s.Sink.IsOpen(), Current: s.current}
	if s.last != nil {
		last := *s.last
		st.Last = &last
	}
	return st
}

// HTTPExpose starts an exposure from an ExposeRequest body.  The reply is
// {"name":..., "code": -1} immediately, or the Result if the request asked
// to wait.
func (s *Server) HTTPExpose(w http.ResponseWriter, r *http.Request) {
	req := ExposeRequest{Frames: 1}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name, done, err := s.start(req)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, imgout.ErrBusy) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !req.Wait {
		w.WriteHeader(http.StatusAccepted)
		server.Respond(w, Result{Name: name, Status: imgout.Nothing.String(), Code: int(imgout.Nothing)})
		return
	}
	select {
	case <-done:
	case <-r.Context().Done():
		return
	}
	res := s.Status().Last
	if res.Code != int(imgout.NoError) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	server.Respond(w, res)
}

// HTTPAbort stops the running exposure
func (s *Server) HTTPAbort(w http.ResponseWriter, r *http.Request) {
	if !s.Abort() {
		http.Error(w, "no exposure running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPStatus replies with the Status
func (s *Server) HTTPStatus(w http.ResponseWriter, r *http.Request) {
	server.Respond(w, s.Status())
}

// HTTPLast serves the file of the last successful exposure
func (s *Server) HTTPLast(w http.ResponseWriter, r *http.Request) {
	last := s.Status().Last
	if last == nil || last.Code != int(imgout.NoError) {
		http.Error(w, "no exposure recorded", http.StatusNotFound)
		return
	}
	if _, ok := s.Sink.(*imgout.DiskSink); !ok {
		http.Error(w, "exposures are not written to disk", http.StatusNotFound)
		return
	}
	server.ReplyWithFile(w, r, filepath.Base(last.Name), filepath.Dir(last.Name))
}

// HTTPListKeys replies with the user keywords
func (s *Server) HTTPListKeys(w http.ResponseWriter, r *http.Request) {
	entries := s.UserKeys.Entries()
	if entries == nil {
		entries = []fitskeys.Entry{}
	}
	server.Respond(w, entries)
}

// HTTPAddKey adds a user keyword from {"str": "KEYWORD=VALUE//COMMENT"}
func (s *Server) HTTPAddKey(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = s.UserKeys.Add(str.Str); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPDeleteKey deletes one user keyword
func (s *Server) HTTPDeleteKey(w http.ResponseWriter, r *http.Request) {
	s.UserKeys.Delete(chi.URLParam(r, "key"))
	w.WriteHeader(http.StatusOK)
}

// HTTPEraseKeys deletes every user keyword
func (s *Server) HTTPEraseKeys(w http.ResponseWriter, r *http.Request) {
	s.UserKeys.Erase()
	w.WriteHeader(http.StatusOK)
}

// Collectors returns prometheus collectors for the exposures of the server
func (s *Server) Collectors(namespace string) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exposures_total",
			Help:      "exposures finished, successfully or not",
		}, func() float64 { return float64(atomic.LoadUint64(&s.exposures)) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exposure_failures_total",
			Help:      "exposures that ended with an error",
		}, func() float64 { return float64(atomic.LoadUint64(&s.failures)) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exposure_running",
			Help:      "1 while an exposure runs",
		}, func() float64 {
			if s.lock.Locked() {
				return 1
			}
			return 0
		}),
	}
}

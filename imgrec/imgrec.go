// Package imgrec names the files of recorded exposures.
//
// Files are named root/yyyy-mm-dd/prefixNNNNNN.fits with a counter that
// continues from the highest number already in the day's folder.
package imgrec

import (
	"encoding/json"
	"fmt"
	"go/types"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/camerad/server"
)

// Recorder hands out incrementing filenames in yyyy-mm-dd subfolders.  It is
// safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// counter is the number of the last file handed out
	counter int

	// day is the subfolder the counter belongs to
	day string

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Now returns the current time; nil uses time.Now.  The folder is named
	// for the UTC date.
	Now func() time.Time
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// folder is the subfolder for t
func folder(t time.Time) string {
	y, m, d := t.UTC().Date()
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// scan finds the highest counter in fldr for the prefix
func (r *Recorder) scan(fldr string) (int, error) {
	files, err := ioutil.ReadDir(fldr)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, file := range files {
		fn := file.Name()
		if file.IsDir() || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		fn = strings.TrimSuffix(fn, ".writing")
		if !strings.HasSuffix(fn, ".fits") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ".fits"))
		if err != nil {
			continue
		}
		if n > count {
			count = n
		}
	}
	return count, nil
}

// Next makes the day's folder and returns the next filename in it
func (r *Recorder) Next() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day := folder(r.now())
	fldr := filepath.Join(r.Root, day)
	if err := os.MkdirAll(fldr, 0777); err != nil {
		return "", err
	}
	if day != r.day {
		n, err := r.scan(fldr)
		if err != nil {
			return "", err
		}
		r.day = day
		r.counter = n
	}
	r.counter++
	return filepath.Join(fldr, fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter)), nil
}

// SetRoot changes the root folder and restarts the counter
func (r *Recorder) SetRoot(root string) error {
	if err := os.MkdirAll(root, 0777); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Root = root
	r.day = ""
	return nil
}

// SetPrefix changes the filename prefix and restarts the counter
func (r *Recorder) SetPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Prefix = prefix
	r.day = ""
}

// Settings returns the root and prefix
func (r *Recorder) Settings() (root, prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Root, r.Prefix
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it offers an Inject method allowing it to be injected into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// HTTPSetRoot updates the root folder of the recorder
func (h HTTPWrapper) HTTPSetRoot(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Recorder.SetRoot(str.Str); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) HTTPGetRoot(w http.ResponseWriter, r *http.Request) {
	root, _ := h.Recorder.Settings()
	hp := server.HumanPayload{T: types.String, String: root}
	hp.EncodeAndRespond(w, r)
}

// HTTPSetPrefix updates the filename prefix of the recorder
func (h HTTPWrapper) HTTPSetPrefix(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.ContainsAny(str.Str, `/\`) {
		http.Error(w, "prefix may not contain a path separator", http.StatusBadRequest)
		return
	}
	h.Recorder.SetPrefix(str.Str)
	w.WriteHeader(http.StatusOK)
}

// HTTPGetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) HTTPGetPrefix(w http.ResponseWriter, r *http.Request) {
	_, prefix := h.Recorder.Settings()
	hp := server.HumanPayload{T: types.String, String: prefix}
	hp.EncodeAndRespond(w, r)
}

// Inject adds GET and POST routes for /autowrite/root and /autowrite/prefix to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other server.HTTPer) {
	rt := other.RT()
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.HTTPSetRoot
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.HTTPGetRoot
	rt[server.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = h.HTTPSetPrefix
	rt[server.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = h.HTTPGetPrefix
}

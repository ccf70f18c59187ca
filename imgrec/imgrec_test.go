package imgrec_test

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.jpl.nasa.gov/bdube/camerad/imgrec"
	"github.jpl.nasa.gov/bdube/camerad/server"
)

func fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNextIncrements(t *testing.T) {
	root := t.TempDir()
	day := time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC)
	r := &imgrec.Recorder{Root: root, Prefix: "img", Now: fixed(day)}
	for i, want := range []string{"img000001.fits", "img000002.fits", "img000003.fits"} {
		got, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		if got != filepath.Join(root, "2024-05-06", want) {
			t.Errorf("name %d = %s, expected %s", i, got, want)
		}
	}
}

func TestNextContinuesFromFolder(t *testing.T) {
	root := t.TempDir()
	day := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	fldr := filepath.Join(root, "2024-05-06")
	r := &imgrec.Recorder{Root: root, Prefix: "img", Now: fixed(day)}
	first, _ := r.Next()
	ioutil.WriteFile(filepath.Join(fldr, "img000041.fits"), nil, 0644)
	ioutil.WriteFile(filepath.Join(fldr, "img000057.fits.writing"), nil, 0644)
	ioutil.WriteFile(filepath.Join(fldr, "other000099.fits"), nil, 0644)

	fresh := &imgrec.Recorder{Root: root, Prefix: "img", Now: fixed(day)}
	got, err := fresh.Next()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "img000058.fits" {
		t.Errorf("fresh recorder named %s after %s", got, first)
	}

	r.Now = fixed(day.Add(24 * time.Hour))
	got, _ = r.Next()
	if got != filepath.Join(root, "2024-05-07", "img000001.fits") {
		t.Errorf("new day did not restart the counter: %s", got)
	}
}

type table server.RouteTable

func (t table) RT() server.RouteTable { return server.RouteTable(t) }

func TestHTTPWrapper(t *testing.T) {
	r := &imgrec.Recorder{Root: t.TempDir(), Prefix: "a"}
	rt := table{}
	imgrec.NewHTTPWrapper(r).Inject(rt)
	mux := chi.NewRouter()
	server.RouteTable(rt).Bind(mux)

	newRoot := filepath.Join(t.TempDir(), "sub")
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/autowrite/prefix", strings.NewReader(`{"str":"cam_"}`)),
		httptest.NewRequest(http.MethodPost, "/autowrite/root", strings.NewReader(`{"str":"`+newRoot+`"}`)),
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s %s answered %d: %s", req.Method, req.URL, rec.Code, rec.Body)
		}
	}
	if root, prefix := r.Settings(); root != newRoot || prefix != "cam_" {
		t.Errorf("settings root=%s prefix=%s", root, prefix)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/autowrite/prefix", strings.NewReader(`{"str":"../x"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("prefix with a separator answered %d", rec.Code)
	}
}

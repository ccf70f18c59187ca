package server_test

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/camerad/server"
)

func ExampleSubMuxSanitize() {
	for _, s := range []string{"", "cam", "/cam/", "/a/b"} {
		fmt.Println(server.SubMuxSanitize(s))
	}
	// Output:
	// /
	// /cam
	// /cam
	// /a/b
}

func TestRouteTableBind(t *testing.T) {
	rt := server.RouteTable{
		{Method: http.MethodGet, Path: "/ping"}: func(w http.ResponseWriter, r *http.Request) {
			server.HumanPayload{T: types.String, String: "pong"}.EncodeAndRespond(w, r)
		},
		{Method: http.MethodPost, Path: "/ping"}: func(w http.ResponseWriter, r *http.Request) {},
	}
	mux := chi.NewRouter()
	rt.Bind(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	var s server.StrT
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil || s.Str != "pong" {
		t.Errorf("GET /ping = %q, %v", s.Str, err)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	var eps []string
	json.NewDecoder(rec.Body).Decode(&eps)
	if diff := cmp.Diff([]string{"GET /ping", "POST /ping"}, eps); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}
}

func TestHumanPayloadKinds(t *testing.T) {
	cases := []struct {
		hp   server.HumanPayload
		want string
	}{
		{server.HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
		{server.HumanPayload{T: types.Int, Int: 3}, `{"int":3}`},
		{server.HumanPayload{T: types.Float64, Float: 1.5}, `{"f64":1.5}`},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		c.hp.EncodeAndRespond(rec, nil)
		if got := rec.Body.String(); got != c.want+"\n" {
			t.Errorf("payload %v encoded as %q, expected %q", c.hp.T, got, c.want)
		}
	}
	rec := httptest.NewRecorder()
	server.HumanPayload{T: types.Complex128}.EncodeAndRespond(rec, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("unsupported kind answered %d", rec.Code)
	}
}

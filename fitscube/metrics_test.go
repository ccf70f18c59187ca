package fitscube_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.jpl.nasa.gov/bdube/camerad/fitscube"
)

func TestCollectors(t *testing.T) {
	m := newMem()
	m.failOn = "3"
	w := openCube(t, m, 50*time.Millisecond)
	for k := 0; k < 2; k++ {
		if err := w.Write(context.Background(), frame(k)); err != nil {
			t.Fatal(err)
		}
	}
	w.Write(context.Background(), frame(2))

	want := fitscube.Stats{Frames: 2, Errors: 1}
	if got := w.Stats(); got != want {
		t.Errorf("stats = %+v, expected %+v", got, want)
	}
	c := w.Collectors("test")
	for i, v := range []float64{2, 1, 0, 0, 2, 1} {
		if got := testutil.ToFloat64(c[i]); got != v {
			t.Errorf("collector %d = %v, expected %v", i, got, v)
		}
	}
	w.Close(false, nil, nil)
	if got := testutil.ToFloat64(c[5]); got != 0 {
		t.Errorf("file_open = %v after close", got)
	}
}

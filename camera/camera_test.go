package camera_test

import (
	"fmt"
	"testing"

	"github.jpl.nasa.gov/bdube/camerad/camera"
	"github.jpl.nasa.gov/bdube/camerad/fitscube"
)

func ExampleQuadrants() {
	for _, r := range camera.Quadrants(100, 50, 2, 2) {
		fmt.Println(r)
	}
	// Output:
	// [1:50,1:25]
	// [51:100,1:25]
	// [1:50,26:50]
	// [51:100,26:50]
}

func TestQuadrantsRemainder(t *testing.T) {
	q := camera.Quadrants(101, 51, 2, 1)
	if q[1].X2 != 101 || q[0].Y2 != 51 {
		t.Errorf("remainder not assigned to the edge: %v", q)
	}
}

func TestAmpSecWraps(t *testing.T) {
	i := &camera.Information{AmpSections: camera.Quadrants(10, 10, 2, 1)}
	if got := i.AmpSec(3); got == nil || *got != (fitscube.Region{X1: 6, X2: 10, Y1: 1, Y2: 10}) {
		t.Errorf("AmpSec(3) = %v", got)
	}
	i.AmpSections = nil
	if i.AmpSec(0) != nil {
		t.Error("AmpSec without sections is not nil")
	}
}

func TestValidate(t *testing.T) {
	good := camera.Information{ImageName: "a.fits", Cols: 2, Rows: 2, Frames: 3, Cube: true}
	if err := good.Validate(); err != nil {
		t.Error(err)
	}
	bad := []camera.Information{
		{Cols: 2, Rows: 2, Frames: 1},
		{ImageName: "a", Rows: 2, Frames: 1},
		{ImageName: "a", Cols: 2, Rows: 2},
		{ImageName: "a", Cols: 2, Rows: 2, Frames: 2},
	}
	for _, i := range bad {
		if err := i.Validate(); err == nil {
			t.Errorf("%+v validated", i)
		}
	}
}

package viewgraph

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func testIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{
		Width: 640, Height: 480,
		Fx: 600, Fy: 600, Ppx: 320, Ppy: 240,
	}
}

func TestPixelRayRoundTrip(t *testing.T) {
	cam := testIntrinsics()
	pt := r3.Vector{X: 0.5, Y: -0.25, Z: 2}
	pix, err := cam.ProjectPointToPixel(pt)
	test.That(t, err, test.ShouldBeNil)
	ray := cam.PixelToNormalizedRay(pix)
	// The ray is the point scaled to z = 1.
	test.That(t, ray.X, test.ShouldAlmostEqual, pt.X/pt.Z, 1e-12)
	test.That(t, ray.Y, test.ShouldAlmostEqual, pt.Y/pt.Z, 1e-12)
	test.That(t, ray.Z, test.ShouldAlmostEqual, 1, 1e-12)
}

func TestProjectBehindCamera(t *testing.T) {
	cam := testIntrinsics()
	_, err := cam.ProjectPointToPixel(r3.Vector{X: 1, Y: 1, Z: 0})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestIntrinsicsCheckValid(t *testing.T) {
	var nilCam *PinholeCameraIntrinsics
	test.That(t, nilCam.CheckValid(), test.ShouldNotBeNil)
	bad := &PinholeCameraIntrinsics{Fx: 0, Fy: 600}
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
	test.That(t, testIntrinsics().CheckValid(), test.ShouldBeNil)
}

func TestViewGraphAddAndLookup(t *testing.T) {
	vg := NewViewGraph()
	err := vg.AddView(&View{ID: 1, Camera: testIntrinsics()})
	test.That(t, err, test.ShouldBeNil)
	err = vg.AddView(&View{ID: 1, Camera: testIntrinsics()})
	test.That(t, err, test.ShouldNotBeNil)
	err = vg.AddView(&View{ID: 2, Camera: nil})
	test.That(t, err, test.ShouldNotBeNil)

	err = vg.AddTrack(&Track{ID: 10, Observations: map[ViewID]r2.Point{1: {X: 320, Y: 240}}})
	test.That(t, err, test.ShouldBeNil)
	err = vg.AddTrack(&Track{ID: 11, Observations: map[ViewID]r2.Point{99: {}}})
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, vg.NumViews(), test.ShouldEqual, 1)
	test.That(t, vg.View(1), test.ShouldNotBeNil)
	test.That(t, vg.View(3), test.ShouldBeNil)
	test.That(t, vg.Track(10).NumViews(), test.ShouldEqual, 1)
}

func TestNormalizedFeature(t *testing.T) {
	vg := NewViewGraph()
	test.That(t, vg.AddView(&View{ID: 1, Camera: testIntrinsics()}), test.ShouldBeNil)
	test.That(t, vg.AddTrack(&Track{
		ID:           5,
		Observations: map[ViewID]r2.Point{1: {X: 920, Y: 840}},
	}), test.ShouldBeNil)

	feat, err := vg.NormalizedFeature(1, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, feat.X, test.ShouldAlmostEqual, 1.0, 1e-12)
	test.That(t, feat.Y, test.ShouldAlmostEqual, 1.0, 1e-12)
	test.That(t, feat.Z, test.ShouldAlmostEqual, 1.0, 1e-12)

	_, err = vg.NormalizedFeature(2, 5)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = vg.NormalizedFeature(1, 6)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewPairKeyOrdersIDs(t *testing.T) {
	test.That(t, NewPairKey(5, 2), test.ShouldResemble, PairKey{First: 2, Second: 5})
	test.That(t, NewPairKey(2, 5), test.ShouldResemble, PairKey{First: 2, Second: 5})
}

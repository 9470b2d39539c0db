package positionavg

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/travisdriver/gosfm/viewgraph"
)

// testScene is a noiseless synthetic reconstruction: known camera rotations
// and centers, scene points in front of every camera, and exact pixel
// observations synthesized through the pinhole model.
type testScene struct {
	graph        *viewgraph.ViewGraph
	orientations map[viewgraph.ViewID]r3.Vector
	centers      map[viewgraph.ViewID]r3.Vector
	pairs        map[viewgraph.PairKey]viewgraph.ViewPair
}

func buildTestScene(t *testing.T) *testScene {
	t.Helper()
	cam := &viewgraph.PinholeCameraIntrinsics{
		Width: 640, Height: 480,
		Fx: 600, Fy: 600, Ppx: 320, Ppy: 240,
	}
	orientations := map[viewgraph.ViewID]r3.Vector{
		1: {X: 0, Y: 0, Z: 0},
		2: {X: 0.05, Y: -0.1, Z: 0.02},
		3: {X: -0.08, Y: 0.06, Z: 0.1},
		4: {X: 0.03, Y: 0.12, Z: -0.07},
	}
	centers := map[viewgraph.ViewID]r3.Vector{
		1: {X: 0, Y: 0, Z: 0},
		2: {X: 1, Y: 0.1, Z: 0.05},
		3: {X: 0.2, Y: 1, Z: -0.1},
		4: {X: 1.1, Y: 0.9, Z: 0.3},
	}
	points := []r3.Vector{
		{X: 0.5, Y: 0.2, Z: 6},
		{X: -1.2, Y: 0.8, Z: 5},
		{X: 1.5, Y: -0.6, Z: 7},
		{X: -0.3, Y: -1.1, Z: 5.5},
		{X: 0.9, Y: 1.3, Z: 6.5},
		{X: -0.7, Y: 0.1, Z: 8},
		{X: 1.1, Y: 0.9, Z: 4.5},
		{X: 0.1, Y: -0.4, Z: 7.5},
	}

	graph := viewgraph.NewViewGraph()
	for id, aa := range orientations {
		err := graph.AddView(&viewgraph.View{ID: id, Orientation: aa, Camera: cam})
		test.That(t, err, test.ShouldBeNil)
	}
	for i, pt := range points {
		obs := map[viewgraph.ViewID]r2.Point{}
		for id, aa := range orientations {
			inCamera := viewgraph.RotateVector(aa, pt.Sub(centers[id]))
			pix, err := cam.ProjectPointToPixel(inCamera)
			test.That(t, err, test.ShouldBeNil)
			obs[id] = pix
		}
		err := graph.AddTrack(&viewgraph.Track{ID: viewgraph.TrackID(i + 1), Observations: obs})
		test.That(t, err, test.ShouldBeNil)
	}

	pairs := map[viewgraph.PairKey]viewgraph.ViewPair{}
	for i, aaI := range orientations {
		for j, aaJ := range orientations {
			if i >= j {
				continue
			}
			rij := viewgraph.RelativeRotation(
				viewgraph.AngleAxisToMatrix(aaI), viewgraph.AngleAxisToMatrix(aaJ))
			pairs[viewgraph.NewPairKey(i, j)] = viewgraph.ViewPair{
				Rotation:    viewgraph.MatrixToAngleAxis(rij),
				Translation: viewgraph.RotateVector(aaI, centers[j].Sub(centers[i])).Normalize(),
			}
		}
	}
	return &testScene{graph: graph, orientations: orientations, centers: centers, pairs: pairs}
}

func TestConstraintBlocksAnnihilateTruePositions(t *testing.T) {
	scene := buildTestScene(t)
	left, mid, right := viewgraph.ViewID(1), viewgraph.ViewID(2), viewgraph.ViewID(3)

	fLeft, err := scene.graph.NormalizedFeature(left, 1)
	test.That(t, err, test.ShouldBeNil)
	fMid, err := scene.graph.NormalizedFeature(mid, 1)
	test.That(t, err, test.ShouldBeNil)
	fRight, err := scene.graph.NormalizedFeature(right, 1)
	test.That(t, err, test.ShouldBeNil)

	blocks := calculateBCD(
		fLeft, fMid, fRight,
		viewgraph.AngleAxisToMatrix(scene.orientations[left]),
		viewgraph.AngleAxisToMatrix(scene.orientations[mid]),
		viewgraph.AngleAxisToMatrix(scene.orientations[right]),
	)

	// The three coefficients sum to zero, which makes the constraint invariant
	// to a global translation.
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			sum := blocks.b.At(r, c) + blocks.c.At(r, c) + blocks.d.At(r, c)
			test.That(t, sum, test.ShouldAlmostEqual, 0, 1e-12)
		}
	}

	// Noiseless observations make the true camera centers an exact solution.
	residual := viewgraph.MulVec(blocks.c, scene.centers[left]).
		Add(viewgraph.MulVec(blocks.b, scene.centers[mid])).
		Add(viewgraph.MulVec(blocks.d, scene.centers[right]))
	test.That(t, residual.Norm(), test.ShouldBeLessThan, 1e-10)
}

func TestProcessTrackSkipsThinTracks(t *testing.T) {
	scene := buildTestScene(t)
	thin := &viewgraph.Track{ID: 100, Observations: map[viewgraph.ViewID]r2.Point{
		1: {X: 320, Y: 240},
		2: {X: 330, Y: 250},
	}}
	test.That(t, scene.graph.AddTrack(thin), test.ShouldBeNil)

	estimator, err := NewEstimator(DefaultOptions(), scene.graph)
	test.That(t, err, test.ShouldBeNil)
	res := estimator.processTrack(100)
	test.That(t, res.err, test.ShouldBeNil)
	test.That(t, res.constraints, test.ShouldBeEmpty)
}

func TestProcessTrackEmitsOneConstraintPerNonBaseView(t *testing.T) {
	scene := buildTestScene(t)
	estimator, err := NewEstimator(DefaultOptions(), scene.graph)
	test.That(t, err, test.ShouldBeNil)

	// Four observers, two of them base views.
	res := estimator.processTrack(1)
	test.That(t, res.err, test.ShouldBeNil)
	test.That(t, len(res.constraints), test.ShouldEqual, 2)
	for _, con := range res.constraints {
		test.That(t, con.triplet.Middle, test.ShouldNotEqual, con.triplet.BaseLeft)
		test.That(t, con.triplet.Middle, test.ShouldNotEqual, con.triplet.BaseRight)
	}
}

func TestSymmetricAccumulatorMatchesTranspose(t *testing.T) {
	scene := buildTestScene(t)
	estimator, err := NewEstimator(DefaultOptions(), scene.graph)
	test.That(t, err, test.ShouldBeNil)
	estimator.numTripletsForView = map[viewgraph.ViewID]int{}
	estimator.linearIndex = map[viewgraph.ViewID]linearIndex{}
	test.That(t, estimator.findTripletsForTracks(), test.ShouldBeNil)

	entries := make(map[[2]int]float64)
	for _, con := range estimator.constraints {
		indices := [3]linearIndex{
			estimator.linearIndex[con.triplet.BaseLeft],
			estimator.linearIndex[con.triplet.Middle],
			estimator.linearIndex[con.triplet.BaseRight],
		}
		coeffs := [3]*mat.Dense{con.blocks.c, con.blocks.b, con.blocks.d}
		addTripletToSymmetricEntries(coeffs, indices, entries)
	}
	// Where both (r, c) and (c, r) were accumulated (diagonal blocks), the two
	// entries must agree exactly with symmetry.
	for key, val := range entries {
		if mirror, ok := entries[[2]int{key[1], key[0]}]; ok {
			test.That(t, val, test.ShouldAlmostEqual, mirror, 1e-9)
		}
	}

	system, err := estimator.createLinearSystem()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, system.SymmetricDim(), test.ShouldEqual, 3*(len(estimator.linearIndex)-1))
}

func TestEstimatePositionsRecoversScene(t *testing.T) {
	logger := golog.NewTestLogger(t)
	scene := buildTestScene(t)
	estimator, err := NewEstimator(DefaultOptions(), scene.graph)
	test.That(t, err, test.ShouldBeNil)

	positions, err := estimator.EstimatePositions(scene.pairs, scene.orientations, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(positions), test.ShouldEqual, 4)

	var pinned viewgraph.ViewID
	for id, li := range estimator.linearIndex {
		if li.pinned {
			pinned = id
		}
	}
	test.That(t, positions[pinned], test.ShouldResemble, r3.Vector{})

	// Recover the global scale from the view farthest from the pinned one;
	// a positive scale means the sign disambiguation worked.
	var scaleView viewgraph.ViewID
	maxDist := 0.0
	for id := range positions {
		if d := scene.centers[id].Sub(scene.centers[pinned]).Norm(); d > maxDist {
			scaleView, maxDist = id, d
		}
	}
	trueOffset := scene.centers[scaleView].Sub(scene.centers[pinned])
	scale := positions[scaleView].Dot(trueOffset) / trueOffset.Norm2()
	test.That(t, scale, test.ShouldBeGreaterThan, 0)

	for id, pos := range positions {
		want := scene.centers[id].Sub(scene.centers[pinned]).Mul(scale)
		test.That(t, pos.Sub(want).Norm(), test.ShouldBeLessThan, 1e-6*math.Max(1, scale))
	}

	for id := range positions {
		test.That(t, estimator.NumTripletsForView(id), test.ShouldBeGreaterThan, 0)
	}
}

func TestFlipSignOfPositions(t *testing.T) {
	logger := golog.NewTestLogger(t)
	scene := buildTestScene(t)

	correct := map[viewgraph.ViewID]r3.Vector{}
	for id, c := range scene.centers {
		correct[id] = c.Sub(scene.centers[1])
	}

	// A correctly signed solution is left alone.
	flipSignOfPositionsIfNecessary(correct, scene.pairs, scene.orientations, logger)
	for id, c := range scene.centers {
		test.That(t, correct[id].Sub(c.Sub(scene.centers[1])).Norm(), test.ShouldAlmostEqual, 0, 1e-12)
	}

	// A negated one is flipped back.
	negated := map[viewgraph.ViewID]r3.Vector{}
	for id, pos := range correct {
		negated[id] = pos.Mul(-1)
	}
	flipSignOfPositionsIfNecessary(negated, scene.pairs, scene.orientations, logger)
	for id, pos := range correct {
		test.That(t, negated[id].Sub(pos).Norm(), test.ShouldAlmostEqual, 0, 1e-12)
	}
}

func TestSmallestEigenvector(t *testing.T) {
	system := mat.NewSymDense(3, []float64{
		5, 0, 0,
		0, 3, 0,
		0, 0, 1e-3,
	})
	v, err := smallestEigenvector(system, 1000, 1e-12)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(v.AtVec(2)), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, math.Abs(v.AtVec(0)), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, math.Abs(v.AtVec(1)), test.ShouldAlmostEqual, 0, 1e-9)
}

func TestNewEstimatorValidation(t *testing.T) {
	opts := DefaultOptions()
	opts.NumThreads = 0
	_, err := NewEstimator(opts, viewgraph.NewViewGraph())
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewEstimator(DefaultOptions(), nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEstimatePositionsInputErrors(t *testing.T) {
	logger := golog.NewTestLogger(t)
	scene := buildTestScene(t)
	estimator, err := NewEstimator(DefaultOptions(), scene.graph)
	test.That(t, err, test.ShouldBeNil)
	_, err = estimator.EstimatePositions(nil, scene.orientations, logger)
	test.That(t, err, test.ShouldNotBeNil)

	// A graph with no usable tracks cannot constrain anything.
	empty := viewgraph.NewViewGraph()
	cam := scene.graph.View(1).Camera
	for id, aa := range scene.orientations {
		test.That(t, empty.AddView(&viewgraph.View{ID: id, Orientation: aa, Camera: cam}), test.ShouldBeNil)
	}
	estimator, err = NewEstimator(DefaultOptions(), empty)
	test.That(t, err, test.ShouldBeNil)
	_, err = estimator.EstimatePositions(scene.pairs, scene.orientations, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

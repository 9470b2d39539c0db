// Package positionavg implements global position averaging with the LiGT
// (Linear Global Translation) formulation: every feature track observed by
// three or more views contributes linear constraints tying the observers'
// unknown positions together, and the stacked constraints' near-null space,
// found spectrally, is the full set of camera positions at once.
package positionavg

import (
	"encoding/json"
	"os"
	"runtime"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/travisdriver/gosfm/viewgraph"
)

// Options configures a position-averaging run.
type Options struct {
	// NumThreads sizes the worker pool of the per-track extraction phase.
	NumThreads int `json:"num_threads"`
	// MaxIterations bounds the shift-invert power iteration.
	MaxIterations int `json:"max_iterations"`
	// Tolerance is the direction-stability threshold that ends the power
	// iteration.
	Tolerance float64 `json:"tolerance"`
}

// DefaultOptions returns options suitable for most reconstructions.
func DefaultOptions() Options {
	return Options{
		NumThreads:    runtime.GOMAXPROCS(0),
		MaxIterations: 1000,
		Tolerance:     1e-12,
	}
}

// LoadOptions reads options from a json file, filling unset fields with
// defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	//nolint:gosec
	optsFile, err := os.Open(path)
	if err != nil {
		return opts, err
	}
	defer utils.UncheckedErrorFunc(optsFile.Close)
	if err := json.NewDecoder(optsFile).Decode(&opts); err != nil {
		return opts, errors.Wrap(err, "error parsing position averaging options")
	}
	return opts, nil
}

// Estimator recovers all camera positions from a view graph and known global
// rotations. All counters and index maps live on the estimator and are reset
// per run, so repeated or concurrent-on-separate-estimators runs do not
// interfere.
type Estimator struct {
	opts  Options
	graph *viewgraph.ViewGraph

	// per-run state
	numTripletsForView map[viewgraph.ViewID]int
	linearIndex        map[viewgraph.ViewID]linearIndex
	constraints        []tripletConstraint
}

// NewEstimator returns an estimator over the given view graph.
func NewEstimator(opts Options, graph *viewgraph.ViewGraph) (*Estimator, error) {
	if opts.NumThreads <= 0 {
		return nil, errors.Errorf("NumThreads must be positive, got %d", opts.NumThreads)
	}
	if graph == nil {
		return nil, errors.New("view graph is nil")
	}
	return &Estimator{opts: opts, graph: graph}, nil
}

// EstimatePositions solves for every constrained view's position. The pinned
// reference view comes out exactly at the origin and all other positions are
// relative to it, in an arbitrary but sign-corrected global scale. The
// orientations map is read only (it feeds sign disambiguation); the returned
// map is owned by the caller.
func (e *Estimator) EstimatePositions(
	pairs map[viewgraph.PairKey]viewgraph.ViewPair,
	orientations map[viewgraph.ViewID]r3.Vector,
	logger golog.Logger,
) (map[viewgraph.ViewID]r3.Vector, error) {
	if len(pairs) == 0 {
		return nil, errors.New("no view pairs provided")
	}
	e.numTripletsForView = map[viewgraph.ViewID]int{}
	e.linearIndex = map[viewgraph.ViewID]linearIndex{}
	e.constraints = nil

	logger.Debug("extracting triplets from tracks and calculating constraint blocks")
	if err := e.findTripletsForTracks(); err != nil {
		return nil, err
	}
	if len(e.constraints) == 0 {
		return nil, errors.New("no track is observed by three or more views")
	}
	logger.Infof("extracted %d triplet constraints over %d views", len(e.constraints), len(e.linearIndex))

	logger.Debug("building the constraint matrix")
	system, err := e.createLinearSystem()
	if err != nil {
		return nil, err
	}

	// The true positions satisfy every noiseless constraint, so they live in
	// the near-null space of A^t*A; with one camera pinned that space is one
	// eigenvector, reachable by shift-invert iteration around zero.
	logger.Debug("solving the sparse eigenvalue problem for positions")
	solution, err := smallestEigenvector(system, e.opts.MaxIterations, e.opts.Tolerance)
	if err != nil {
		return nil, err
	}

	positions := make(map[viewgraph.ViewID]r3.Vector, len(e.linearIndex))
	for viewID, li := range e.linearIndex {
		if li.pinned {
			positions[viewID] = r3.Vector{}
			continue
		}
		positions[viewID] = r3.Vector{
			X: solution.AtVec(li.offset()),
			Y: solution.AtVec(li.offset() + 1),
			Z: solution.AtVec(li.offset() + 2),
		}
	}

	flipSignOfPositionsIfNecessary(positions, pairs, orientations, logger)
	return positions, nil
}

// NumTripletsForView returns how many triplets the view participated in
// during the last run.
func (e *Estimator) NumTripletsForView(id viewgraph.ViewID) int {
	return e.numTripletsForView[id]
}

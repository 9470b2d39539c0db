package positionavg

import (
	"context"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/travisdriver/gosfm/putils"
	"github.com/travisdriver/gosfm/viewgraph"
)

// viewTriplet is one (baseLeft, middle, baseRight) selection for a track.
// Base views are the track's best-conditioned pair; every remaining observer
// becomes the middle view of one triplet.
type viewTriplet struct {
	BaseLeft  viewgraph.ViewID
	Middle    viewgraph.ViewID
	BaseRight viewgraph.ViewID
}

// tripletConstraint pairs a triplet with its coefficient blocks.
type tripletConstraint struct {
	triplet viewTriplet
	blocks  constraintBlocks
}

// trackResult is one track's contribution, produced by a worker.
type trackResult struct {
	constraints []tripletConstraint
	err         error
}

// findTripletsForTracks extracts triplets and coefficient blocks for every
// track with at least three observers. Tracks are independent, so the scan is
// spread over the worker pool; each worker writes only its own slots of the
// results slice, and the merge into estimator state happens sequentially
// afterwards so the pinned-view assignment stays deterministic.
func (e *Estimator) findTripletsForTracks() error {
	trackIDs := e.graph.TrackIDs()
	sort.Slice(trackIDs, func(i, j int) bool { return trackIDs[i] < trackIDs[j] })

	results := make([]trackResult, len(trackIDs))
	err := putils.GroupWorkParallel(
		context.Background(),
		len(trackIDs),
		e.opts.NumThreads,
		func(numGroups int) {},
		func(groupNum, groupSize, from, to int) (putils.MemberWorkFunc, putils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				results[workNum] = e.processTrack(trackIDs[workNum])
			}, nil
		},
	)
	if err != nil {
		return err
	}

	var trackErrs error
	for _, res := range results {
		if res.err != nil {
			trackErrs = multierr.Combine(trackErrs, res.err)
			continue
		}
		for _, con := range res.constraints {
			e.addTripletConstraint(con.triplet)
			e.constraints = append(e.constraints, con)
		}
	}
	return trackErrs
}

// processTrack selects the track's base pair and emits one constraint per
// remaining view. Tracks with fewer than three observers contribute nothing.
func (e *Estimator) processTrack(tID viewgraph.TrackID) trackResult {
	track := e.graph.Track(tID)
	if track.NumViews() < 3 {
		return trackResult{}
	}

	viewIDs := make([]viewgraph.ViewID, 0, track.NumViews())
	for vID := range track.Observations {
		viewIDs = append(viewIDs, vID)
	}
	sort.Slice(viewIDs, func(i, j int) bool { return viewIDs[i] < viewIDs[j] })

	feats := make(map[viewgraph.ViewID]r3.Vector, len(viewIDs))
	rots := make(map[viewgraph.ViewID]*mat.Dense, len(viewIDs))
	for _, vID := range viewIDs {
		feat, err := e.graph.NormalizedFeature(vID, tID)
		if err != nil {
			return trackResult{err: errors.Wrapf(err, "track %d", tID)}
		}
		feats[vID] = feat
		rots[vID] = viewgraph.AngleAxisToMatrix(e.graph.View(vID).Orientation)
	}

	// Base pair: the pair with the best parallax proxy over all pairs.
	var baseLeft, baseRight viewgraph.ViewID
	scoreMax := 0.0
	for i := 0; i < len(viewIDs); i++ {
		for j := i + 1; j < len(viewIDs); j++ {
			id1, id2 := viewIDs[i], viewIDs[j]
			r12 := viewgraph.RelativeRotation(rots[id1], rots[id2])
			score := tripletParallaxScore(feats[id1], feats[id2], r12)
			if score > scoreMax {
				baseLeft, baseRight = id1, id2
				scoreMax = score
			}
		}
	}
	if scoreMax == 0 {
		// Every pair is collinear; any constraint from this track would be
		// degenerate.
		return trackResult{}
	}

	var res trackResult
	for _, vID := range viewIDs {
		if vID == baseLeft || vID == baseRight {
			continue
		}
		blocks := calculateBCD(
			feats[baseLeft], feats[vID], feats[baseRight],
			rots[baseLeft], rots[vID], rots[baseRight],
		)
		res.constraints = append(res.constraints, tripletConstraint{
			triplet: viewTriplet{BaseLeft: baseLeft, Middle: vID, BaseRight: baseRight},
			blocks:  blocks,
		})
	}
	return res
}

// addTripletConstraint updates per-view triplet counts and assigns linear
// system indices. The first view ever seen becomes the pinned origin.
func (e *Estimator) addTripletConstraint(t viewTriplet) {
	e.numTripletsForView[t.BaseLeft]++
	e.numTripletsForView[t.Middle]++
	e.numTripletsForView[t.BaseRight]++
	e.assignLinearIndex(t.BaseLeft)
	e.assignLinearIndex(t.Middle)
	e.assignLinearIndex(t.BaseRight)
}

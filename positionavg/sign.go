package positionavg

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/travisdriver/gosfm/viewgraph"
)

// flipSignOfPositionsIfNecessary resolves the eigenvector's global sign
// ambiguity. Every pairwise edge whose endpoints were both estimated casts
// one vote: does the globally-rotated position difference point into the same
// half-space as the edge's relative translation direction? A negative net
// vote flips every position; a tie leaves them alone.
func flipSignOfPositionsIfNecessary(
	positions map[viewgraph.ViewID]r3.Vector,
	pairs map[viewgraph.PairKey]viewgraph.ViewPair,
	orientations map[viewgraph.ViewID]r3.Vector,
	logger golog.Logger,
) {
	correctSignVotes := 0
	for key, pair := range pairs {
		pos1, ok1 := positions[key.First]
		pos2, ok2 := positions[key.Second]
		if !ok1 || !ok2 {
			continue
		}
		if vectorsAreSameDirection(pos1, pos2, orientations[key.First], pair.Translation) {
			correctSignVotes++
		} else {
			correctSignVotes--
		}
	}

	if correctSignVotes < 0 {
		numCorrectVotes := (len(pairs) + correctSignVotes) / 2
		logger.Debugf(
			"sign of the positions was incorrect: %d of %d relative translations had the correct sign; flipping",
			numCorrectVotes, len(pairs))
		for viewID, pos := range positions {
			positions[viewID] = pos.Mul(-1)
		}
	}
}

// vectorsAreSameDirection reports whether R_1*(c_2 - c_1) lies in the same
// half-space as the relative translation direction t_12.
func vectorsAreSameDirection(position1, position2, rotation1, relativeTranslation12 r3.Vector) bool {
	globalRelativePosition := position2.Sub(position1).Normalize()
	rotated := viewgraph.RotateVector(rotation1, globalRelativePosition)
	return rotated.Dot(relativeTranslation12) > 0
}

package rotationavg

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/travisdriver/gosfm/viewgraph"
)

// ErrDisconnectedGraph is returned when the pairwise edges do not connect all
// views. A disconnected graph has no globally consistent solution, so the run
// is rejected before any solving happens.
var ErrDisconnectedGraph = errors.New("rotation graph is disconnected")

// checkConnected verifies that the view pairs form a single connected
// component over all views, using union-find.
func checkConnected(
	pairs map[viewgraph.PairKey]viewgraph.ViewPair,
	orientations map[viewgraph.ViewID]r3.Vector,
) error {
	parent := make(map[viewgraph.ViewID]viewgraph.ViewID, len(orientations))
	for id := range orientations {
		parent[id] = id
	}
	var find func(viewgraph.ViewID) viewgraph.ViewID
	find = func(id viewgraph.ViewID) viewgraph.ViewID {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	for key := range pairs {
		a, b := find(key.First), find(key.Second)
		if a != b {
			parent[a] = b
		}
	}
	components := 0
	for id := range orientations {
		if find(id) == id {
			components++
		}
	}
	if components > 1 {
		return errors.Wrapf(ErrDisconnectedGraph, "%d components", components)
	}
	return nil
}

// Package viewgraph holds the data model shared by the global pose estimators:
// views with known orientations and camera intrinsics, feature tracks, and
// two-view relative pose edges.
package viewgraph

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ViewID uniquely identifies a view (one image taken by one camera).
type ViewID uint32

// TrackID uniquely identifies a feature track across views.
type TrackID uint32

// PairKey is an unordered pair of view ids, stored with First < Second.
type PairKey struct {
	First  ViewID
	Second ViewID
}

// NewPairKey returns the canonical key for the unordered pair (a, b).
func NewPairKey(a, b ViewID) PairKey {
	if a < b {
		return PairKey{First: a, Second: b}
	}
	return PairKey{First: b, Second: a}
}

// ViewPair is a relative pose edge between PairKey.First and PairKey.Second,
// estimated independently upstream (e.g. from an essential matrix).
type ViewPair struct {
	// Rotation is the relative rotation from the first to the second view,
	// in R3 axis-angle form.
	Rotation r3.Vector
	// Translation is the unit direction of the second camera center as seen in
	// the first camera's frame, i.e. R_1*(c_2 - c_1) normalized. It carries no
	// scale.
	Translation r3.Vector
}

// View is a single image with a known orientation estimate and a camera model.
// Its position is the unknown solved by position averaging.
type View struct {
	ID ViewID
	// Orientation is the world-to-camera rotation in R3 axis-angle form.
	Orientation r3.Vector
	Camera      *PinholeCameraIntrinsics
	// Position is the camera center in world coordinates. It is only
	// meaningful after position averaging has written it.
	Position r3.Vector
}

// Track is a set of observations of one scene point, keyed by the observing
// view.
type Track struct {
	ID           TrackID
	Observations map[ViewID]r2.Point
}

// NumViews returns how many views observe the track.
func (tr *Track) NumViews() int {
	return len(tr.Observations)
}

// ViewGraph is the read-only store the estimators operate on.
type ViewGraph struct {
	views  map[ViewID]*View
	tracks map[TrackID]*Track
}

// NewViewGraph returns an empty graph.
func NewViewGraph() *ViewGraph {
	return &ViewGraph{
		views:  map[ViewID]*View{},
		tracks: map[TrackID]*Track{},
	}
}

// AddView adds a view to the graph. The camera intrinsics must be valid.
func (vg *ViewGraph) AddView(v *View) error {
	if v == nil {
		return errors.New("cannot add a nil view")
	}
	if err := v.Camera.CheckValid(); err != nil {
		return errors.Wrapf(err, "view %d", v.ID)
	}
	if _, ok := vg.views[v.ID]; ok {
		return errors.Errorf("view %d already present", v.ID)
	}
	vg.views[v.ID] = v
	return nil
}

// AddTrack adds a track to the graph. Every observing view must already be in
// the graph.
func (vg *ViewGraph) AddTrack(tr *Track) error {
	if tr == nil {
		return errors.New("cannot add a nil track")
	}
	for vID := range tr.Observations {
		if _, ok := vg.views[vID]; !ok {
			return errors.Errorf("track %d observes unknown view %d", tr.ID, vID)
		}
	}
	if _, ok := vg.tracks[tr.ID]; ok {
		return errors.Errorf("track %d already present", tr.ID)
	}
	vg.tracks[tr.ID] = tr
	return nil
}

// View returns the view with the given id, or nil.
func (vg *ViewGraph) View(id ViewID) *View {
	return vg.views[id]
}

// Track returns the track with the given id, or nil.
func (vg *ViewGraph) Track(id TrackID) *Track {
	return vg.tracks[id]
}

// NumViews returns the number of views in the graph.
func (vg *ViewGraph) NumViews() int {
	return len(vg.views)
}

// TrackIDs returns the ids of all tracks in the graph.
func (vg *ViewGraph) TrackIDs() []TrackID {
	ids := make([]TrackID, 0, len(vg.tracks))
	for id := range vg.tracks {
		ids = append(ids, id)
	}
	return ids
}

// ViewIDs returns the ids of all views in the graph.
func (vg *ViewGraph) ViewIDs() []ViewID {
	ids := make([]ViewID, 0, len(vg.views))
	for id := range vg.views {
		ids = append(ids, id)
	}
	return ids
}

// NormalizedFeature returns the observation of the given track in the given
// view as a z=1 homogeneous ray, with the camera intrinsics removed.
func (vg *ViewGraph) NormalizedFeature(vID ViewID, tID TrackID) (r3.Vector, error) {
	v := vg.views[vID]
	if v == nil {
		return r3.Vector{}, errors.Errorf("no view %d", vID)
	}
	tr := vg.tracks[tID]
	if tr == nil {
		return r3.Vector{}, errors.Errorf("no track %d", tID)
	}
	obs, ok := tr.Observations[vID]
	if !ok {
		return r3.Vector{}, errors.Errorf("track %d not observed by view %d", tID, vID)
	}
	return v.Camera.PixelToNormalizedRay(obs), nil
}

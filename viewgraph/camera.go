package viewgraph

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ErrNoIntrinsics is returned when a view has no usable camera intrinsics.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// PinholeCameraIntrinsics holds the parameters of a perspective projection
// from the 3D scene to the 2D image plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return errors.Wrap(ErrNoIntrinsics, "intrinsics are nil")
	}
	if params.Fx <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal length fx = %v", params.Fx)
	}
	if params.Fy <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal length fy = %v", params.Fy)
	}
	return nil
}

// PixelToNormalizedRay removes the intrinsics from a pixel observation and
// returns the corresponding homogeneous ray with z = 1.
func (params *PinholeCameraIntrinsics) PixelToNormalizedRay(pt r2.Point) r3.Vector {
	return r3.Vector{
		X: (pt.X - params.Ppx) / params.Fx,
		Y: (pt.Y - params.Ppy) / params.Fy,
		Z: 1.0,
	}
}

// ProjectPointToPixel projects a point in the camera frame onto the image
// plane. The inverse of PixelToNormalizedRay for points in front of the
// camera; used to synthesize observations in tests.
func (params *PinholeCameraIntrinsics) ProjectPointToPixel(pt r3.Vector) (r2.Point, error) {
	if pt.Z == 0 {
		return r2.Point{}, errors.New("cannot project a point with z = 0")
	}
	return r2.Point{
		X: params.Fx*pt.X/pt.Z + params.Ppx,
		Y: params.Fy*pt.Y/pt.Z + params.Ppy,
	}, nil
}

// NewPinholeCameraIntrinsicsFromJSONFile reads intrinsics from a json file.
func NewPinholeCameraIntrinsicsFromJSONFile(path string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	var intrinsics PinholeCameraIntrinsics
	if err := json.NewDecoder(jsonFile).Decode(&intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing intrinsics")
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	return &intrinsics, nil
}

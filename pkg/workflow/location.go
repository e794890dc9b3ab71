package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/fieldscope/collect/pkg/common/logger"
	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/fieldscope/collect/pkg/form"
	"github.com/fieldscope/collect/pkg/location"
	"gorm.io/datatypes"
)

// AreaIndex is the hierarchy lookup the resolver depends on; *location.Index
// satisfies it.
type AreaIndex interface {
	ByName(ctx context.Context, name string) (*location.Area, error)
	ByPath(ctx context.Context, path []string) (*location.Area, error)
	Nearest(ctx context.Context, lat, lng float64) (*location.Area, error)
}

// ResolvedLocation is the workflow's output: a root-to-leaf hierarchy path
// and a point geometry. Both nil is a valid terminal state for forms that
// carry no location.
type ResolvedLocation struct {
	Path     []string
	Geometry datatypes.JSONMap
}

type LocationResolver struct {
	index AreaIndex
}

func NewLocationResolver(index AreaIndex) *LocationResolver {
	return &LocationResolver{index: index}
}

// Resolve turns the submission's location answers into a hierarchy path and
// geometry. When both a display name and a geocode are supplied the name
// hierarchy is authoritative and the geocode is taken as-is, never
// re-derived.
func (r *LocationResolver) Resolve(ctx context.Context, locationName, geocodeText string) (*ResolvedLocation, error) {
	locationName = strings.TrimSpace(locationName)
	geocodeText = strings.TrimSpace(geocodeText)

	switch {
	case locationName == "" && geocodeText == "":
		return nil, nil
	case locationName != "" && geocodeText != "":
		coords, err := form.ParseGeocode(geocodeText)
		if err != nil {
			return nil, err
		}
		path, _ := r.resolveName(ctx, locationName)
		return &ResolvedLocation{
			Path:     path,
			Geometry: location.PointGeometry(coords[0], coords[1]),
		}, nil
	case locationName != "":
		path, area := r.resolveName(ctx, locationName)
		return &ResolvedLocation{Path: path, Geometry: location.Centroid(area)}, nil
	default:
		coords, err := form.ParseGeocode(geocodeText)
		if err != nil {
			return nil, err
		}
		resolved := &ResolvedLocation{Geometry: location.PointGeometry(coords[0], coords[1])}
		area, err := r.index.Nearest(ctx, coords[0], coords[1])
		if err != nil {
			if !errors.Is(err, location.ErrAreaNotFound) {
				return nil, err
			}
			return resolved, nil
		}
		resolved.Path = area.Path()
		return resolved, nil
	}
}

// resolveName splits a comma-separated display name (leaf first, the way
// people write addresses) into a root-to-leaf path, consulting the index for
// the lowest resolvable level. An unindexed name still yields a usable path.
func (r *LocationResolver) resolveName(ctx context.Context, name string) ([]string, *location.Area) {
	parts := strings.Split(name, ",")
	path := make([]string, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		if p := models.Fold(parts[i]); p != "" {
			path = append(path, p)
		}
	}
	if len(path) == 0 {
		return nil, nil
	}

	if len(path) == 1 {
		area, err := r.index.ByName(ctx, path[0])
		if err != nil {
			if !errors.Is(err, location.ErrAreaNotFound) {
				logger.Log.WithError(err).Warn("location index lookup failed")
			}
			return path, nil
		}
		return area.Path(), area
	}

	area, err := r.index.ByPath(ctx, path)
	if errors.Is(err, location.ErrAreaNotFound) {
		area, err = r.index.ByName(ctx, path[len(path)-1])
	}
	if err != nil {
		if !errors.Is(err, location.ErrAreaNotFound) {
			logger.Log.WithError(err).Warn("location index lookup failed")
		}
		return path, nil
	}
	return path, area
}

// Package location is the administrative-hierarchy index used to resolve a
// submission's location answer into a root-to-leaf path and a geometry.
package location

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fieldscope/collect/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrAreaNotFound = errors.New("administrative area not found")

const pathSeparator = "/"

// Area is one node of the administrative hierarchy with its centroid.
type Area struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	Name      string    `json:"name" gorm:"column:name;index"`
	PathText  string    `json:"-" gorm:"column:path_text;index"`
	Level     int       `json:"level" gorm:"column:level"`
	Lat       float64   `json:"lat" gorm:"column:lat"`
	Lng       float64   `json:"lng" gorm:"column:lng"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

func (Area) TableName() string {
	return "areas"
}

// Path returns the root-to-leaf hierarchy of the area.
func (a *Area) Path() []string {
	if a.PathText == "" {
		return nil
	}
	return strings.Split(a.PathText, pathSeparator)
}

func JoinPath(path []string) string {
	folded := make([]string, len(path))
	for i, p := range path {
		folded[i] = models.Fold(p)
	}
	return strings.Join(folded, pathSeparator)
}

type Index struct {
	db *gorm.DB
}

func NewIndex(db *gorm.DB) *Index {
	return &Index{db: db}
}

func (i *Index) AutoMigrate() error {
	return i.db.AutoMigrate(&Area{})
}

func (i *Index) Save(ctx context.Context, area *Area) error {
	area.Name = models.Fold(area.Name)
	area.PathText = models.Fold(area.PathText)
	area.CreatedAt = time.Now().UTC()
	return i.db.WithContext(ctx).Create(area).Error
}

// ByName resolves a bare place name to its lowest (most specific)
// administrative match.
func (i *Index) ByName(ctx context.Context, name string) (*Area, error) {
	var area Area
	result := i.db.WithContext(ctx).
		Where("name = ?", models.Fold(name)).
		Order("level DESC").
		First(&area)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrAreaNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &area, nil
}

// ByPath resolves an explicit root-to-leaf hierarchy.
func (i *Index) ByPath(ctx context.Context, path []string) (*Area, error) {
	var area Area
	result := i.db.WithContext(ctx).
		Where("path_text = ?", JoinPath(path)).
		First(&area)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrAreaNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &area, nil
}

// Nearest reverse-resolves a coordinate to the area with the closest
// centroid. Good enough for audit display; boundary-exact containment is a
// job for the reporting side.
func (i *Index) Nearest(ctx context.Context, lat, lng float64) (*Area, error) {
	var area Area
	result := i.db.WithContext(ctx).Raw(
		"SELECT * FROM areas ORDER BY (lat - ?) * (lat - ?) + (lng - ?) * (lng - ?) ASC LIMIT 1",
		lat, lat, lng, lng,
	).Scan(&area)
	if result.Error != nil {
		return nil, result.Error
	}
	if area.ID == "" {
		return nil, ErrAreaNotFound
	}
	return &area, nil
}

// PointGeometry builds a GeoJSON-style point document.
func PointGeometry(lat, lng float64) datatypes.JSONMap {
	return datatypes.JSONMap{
		"type":        "Point",
		"coordinates": []interface{}{lng, lat},
	}
}

// Centroid is the area's point geometry.
func Centroid(area *Area) datatypes.JSONMap {
	if area == nil {
		return nil
	}
	return PointGeometry(area.Lat, area.Lng)
}

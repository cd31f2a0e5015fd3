package unmix

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"

	"spectral-unmix/raster"
)

// PointRecord is one labelled sample location from a field survey.
// Loc.X is longitude and Loc.Y is latitude, EPSG:4326.
type PointRecord struct {
	ID    string
	Class string
	Loc   geom.Point
}

// ExtractEndmembers looks up the spectrum under each point in an
// orthorectified cube, nearest grid cell only, no interpolation.
// Points outside the cube's coverage produce rows whose spectrum is
// entirely NaN; use DropIncomplete to remove them. The function does
// not modify the cube.
func ExtractEndmembers(c *raster.Cube, points []PointRecord) ([]Endmember, error) {
	if !c.Ortho {
		return nil, fmt.Errorf("unmix.ExtractEndmembers: cube %s is not orthorectified", c.Granule)
	}
	if len(c.Lat) == 0 || len(c.Lon) == 0 {
		return nil, fmt.Errorf("unmix.ExtractEndmembers: cube %s has no coordinate vectors", c.Granule)
	}

	nb := c.Bands()
	rows := make([]Endmember, 0, len(points))
	for _, p := range points {
		em := Endmember{
			ID:       p.ID,
			Class:    p.Class,
			Spectrum: make([]float64, nb),
		}
		i, iok := nearestIndex(c.Lat, p.Loc.Y)
		j, jok := nearestIndex(c.Lon, p.Loc.X)
		if !iok || !jok {
			for b := range em.Spectrum {
				em.Spectrum[b] = math.NaN()
			}
			rows = append(rows, em)
			continue
		}
		em.Spectrum = c.Spectrum(i, j, em.Spectrum)
		for b, v := range em.Spectrum {
			// -0.1 is a placeholder reflectance in some granules
			if v == -0.1 {
				em.Spectrum[b] = 0
			}
		}
		rows = append(rows, em)
	}
	return rows, nil
}

// DropIncomplete removes rows whose spectrum has any missing band and
// reports how many were dropped.
func DropIncomplete(rows []Endmember) ([]Endmember, int) {
	kept := rows[:0:0]
	dropped := 0
	for _, r := range rows {
		if hasNaN(r.Spectrum) {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}

func hasNaN(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}

// nearestIndex finds the index of the coordinate nearest to x in a
// monotonic vector (ascending or descending). It reports false when x
// lies outside the vector's extent by more than half a cell.
func nearestIndex(coords []float64, x float64) (int, bool) {
	if len(coords) == 0 {
		return 0, false
	}
	best := 0
	bestDist := math.Abs(coords[0] - x)
	for i := 1; i < len(coords); i++ {
		if d := math.Abs(coords[i] - x); d < bestDist {
			best, bestDist = i, d
		}
	}
	spacing := math.Abs(coords[len(coords)-1]-coords[0]) / math.Max(float64(len(coords)-1), 1)
	if spacing == 0 {
		spacing = 1
	}
	if bestDist > spacing/2+1e-12 {
		return best, false
	}
	return best, true
}

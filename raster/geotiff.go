package raster

import (
	"fmt"
	"math"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/ctessum/sparse"
)

// byteNoData is the nodata marker in written GeoTIFFs. Valid class
// proportions are 0-100 so a byte band with 255 as nodata fits.
const byteNoData = 255

var registerDrivers sync.Once

// WriteGeoTIFF writes an orthorectified rows x cols x classes
// proportion array to a GeoTIFF with one byte band per class in
// EPSG:4326. Sentinel and NaN cells become the nodata value.
func WriteGeoTIFF(path string, arr *sparse.DenseArray, classes []string, gt [6]float64) error {
	if len(arr.Shape) != 3 {
		return fmt.Errorf("raster.WriteGeoTIFF: array has %d dims, want 3", len(arr.Shape))
	}
	if arr.Shape[2] != len(classes) {
		return fmt.Errorf("raster.WriteGeoTIFF: %d class bands but %d class names", arr.Shape[2], len(classes))
	}
	registerDrivers.Do(godal.RegisterAll)

	rows, cols, nc := arr.Shape[0], arr.Shape[1], arr.Shape[2]
	ds, err := godal.Create(godal.GTiff, path, nc, godal.Byte, cols, rows)
	if err != nil {
		return fmt.Errorf("raster.WriteGeoTIFF: %w", err)
	}
	defer ds.Close()

	if err := ds.SetGeoTransform(gt); err != nil {
		return fmt.Errorf("raster.WriteGeoTIFF: %w", err)
	}
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return fmt.Errorf("raster.WriteGeoTIFF: %w", err)
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return fmt.Errorf("raster.WriteGeoTIFF: %w", err)
	}

	buf := make([]byte, rows*cols)
	for b, band := range ds.Bands() {
		if err := band.SetNoData(byteNoData); err != nil {
			return fmt.Errorf("raster.WriteGeoTIFF: %w", err)
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				v := arr.Get(i, j, b)
				switch {
				case math.IsNaN(v) || v == FillValue || v < 0 || v > 100:
					buf[i*cols+j] = byteNoData
				default:
					buf[i*cols+j] = byte(math.Round(v))
				}
			}
		}
		if err := band.Write(0, 0, buf, cols, rows); err != nil {
			return fmt.Errorf("raster.WriteGeoTIFF: band %s: %w", classes[b], err)
		}
	}
	return nil
}

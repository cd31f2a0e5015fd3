package main

// Builds a labelled spectral library: for each granule, looks up the
// reflectance spectrum under every survey point and caches the
// complete rows in SQLite (plus an optional CSV export).

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/joho/godotenv"

	"spectral-unmix/raster"
	"spectral-unmix/store"
	"spectral-unmix/unmix"
)

// Config holds extraction configuration
type Config struct {
	PointsPath string
	Granules   []string
	DBPath     string
	CSVPath    string
	Verbose    bool
}

func main() {
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime)
	log.Println("=== Endmember Extraction Pipeline ===")
	log.Printf("Points: %s\n", config.PointsPath)
	log.Printf("Granules: %d\n", len(config.Granules))
	log.Println()

	startTime := time.Now()

	log.Println("Step 1: Reading survey points...")
	points, err := readPoints(config.PointsPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to read points: %v", err)
	}
	log.Printf("Loaded %d points\n", len(points))
	log.Println()

	db, err := store.NewSQLiteClient(config.DBPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to open library database: %v", err)
	}
	defer db.Close()

	log.Println("Step 2: Extracting spectra...")
	var library []unmix.Endmember
	totalDropped := 0
	for i, granulePath := range config.Granules {
		log.Printf("  [%d/%d] %s", i+1, len(config.Granules), granulePath)

		rows, dropped, granule, err := extractGranule(granulePath, points, config.Verbose)
		if err != nil {
			log.Fatalf("ERROR: %s: %v", granulePath, err)
		}
		if err := db.SaveEndmembers(granule, rows); err != nil {
			log.Fatalf("ERROR: Failed to cache endmembers: %v", err)
		}
		library = append(library, rows...)
		totalDropped += dropped
		log.Printf("  extracted %d rows (%d dropped)\n", len(rows), dropped)
	}
	log.Println()

	if len(library) == 0 {
		log.Fatalf("ERROR: No complete spectra extracted")
	}

	log.Println("Step 3: Saving class mapping...")
	classNames := make([]string, 0, len(library))
	for _, em := range library {
		classNames = append(classNames, em.Class)
	}
	classes, err := unmix.NewClassMapping(classNames)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	if err := db.SaveClassMapping(classes); err != nil {
		log.Fatalf("ERROR: Failed to save class mapping: %v", err)
	}

	if config.CSVPath != "" {
		if err := writeCSV(config.CSVPath, library); err != nil {
			log.Fatalf("ERROR: Failed to write CSV: %v", err)
		}
		log.Printf("CSV export written to: %s\n", config.CSVPath)
	}

	log.Println()
	log.Println("=== Extraction Summary ===")
	log.Printf("Total library rows: %d\n", len(library))
	log.Printf("Rows dropped (incomplete spectra): %d\n", totalDropped)
	log.Printf("Classes: %s\n", strings.Join(classes.Names(), ", "))
	log.Printf("Total extraction time: %.2f seconds\n", time.Since(startTime).Seconds())
}

func parseFlags() Config {
	config := Config{}

	var granules string
	flag.StringVar(&config.PointsPath, "points", "data/points.csv",
		"CSV of survey points (ID,Category,Latitude,Longitude)")
	flag.StringVar(&granules, "granules", "",
		"Comma-separated reflectance granule paths (required)")
	flag.StringVar(&config.DBPath, "db", "data/unmix.db",
		"SQLite spectral library path")
	flag.StringVar(&config.CSVPath, "csv", "data/library.csv",
		"CSV export path (empty to skip)")
	flag.BoolVar(&config.Verbose, "verbose", false,
		"Enable verbose logging")

	flag.Parse()
	_ = godotenv.Load()

	if granules == "" {
		log.Fatal("ERROR: -granules is required")
	}
	for _, g := range strings.Split(granules, ",") {
		if g = strings.TrimSpace(g); g != "" {
			config.Granules = append(config.Granules, g)
		}
	}
	if _, err := os.Stat(config.PointsPath); os.IsNotExist(err) {
		log.Fatalf("ERROR: Points file does not exist: %s", config.PointsPath)
	}

	return config
}

func readPoints(path string) ([]unmix.PointRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, want := range []string{"id", "category", "latitude", "longitude"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("points CSV missing %q column", want)
		}
	}

	var points []unmix.PointRecord
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		lat, err := strconv.ParseFloat(record[col["latitude"]], 64)
		if err != nil {
			return nil, fmt.Errorf("point %s: bad latitude: %w", record[col["id"]], err)
		}
		lon, err := strconv.ParseFloat(record[col["longitude"]], 64)
		if err != nil {
			return nil, fmt.Errorf("point %s: bad longitude: %w", record[col["id"]], err)
		}
		points = append(points, unmix.PointRecord{
			ID:    record[col["id"]],
			Class: record[col["category"]],
			Loc:   geom.Point{X: lon, Y: lat},
		})
	}
	return points, nil
}

func extractGranule(path string, points []unmix.PointRecord, verbose bool) ([]unmix.Endmember, int, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, "", err
	}
	defer f.Close()

	cube, err := raster.ReadCube(f)
	if err != nil {
		return nil, 0, "", err
	}
	cube = cube.DropBadBands()
	cube, err = raster.Orthorectify(cube)
	if err != nil {
		return nil, 0, "", err
	}

	rows, err := unmix.ExtractEndmembers(cube, points)
	if err != nil {
		return nil, 0, "", err
	}
	kept, dropped := unmix.DropIncomplete(rows)
	if verbose {
		for _, em := range kept {
			log.Printf("    %s (%s): %d bands", em.ID, em.Class, len(em.Spectrum))
		}
	}
	return kept, dropped, cube.Granule, nil
}

func writeCSV(path string, library []unmix.Endmember) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	nb := len(library[0].Spectrum)
	header := make([]string, 0, nb+2)
	header = append(header, "ID", "Category")
	for b := 0; b < nb; b++ {
		header = append(header, fmt.Sprintf("band_%d", b))
	}
	if err := w.Write(header); err != nil {
		return err
	}
	row := make([]string, 0, nb+2)
	for _, em := range library {
		row = row[:0]
		row = append(row, em.ID, em.Class)
		for _, v := range em.Spectrum {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

package annotation

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// TableFile is the placeholder table written into every camera folder
const TableFile = "annotations.csv"

// Header labels of the first column
const (
	rowEntities  = "entities"
	rowBodyparts = "bodyparts"
	rowCoords    = "coords"
)

// Placeholder values for one (x, y, state) triplet
var placeholder = []string{"", "", "0"}

// TableColumns is the column count of a table for schema
func TableColumns(s *Schema) int {
	return 1 + 3*s.Triplets()
}

// TableHeader returns the four header rows: scorer, entities, keypoints and
// coordinate labels. Triplets are entity-major.
func TableHeader(s *Schema, scorer string) [][]string {
	cols := TableColumns(s)

	scorerRow := make([]string, cols)
	for i := range scorerRow {
		scorerRow[i] = scorer
	}

	entities := make([]string, 1, cols)
	bodyparts := make([]string, 1, cols)
	coords := make([]string, 1, cols)
	entities[0], bodyparts[0], coords[0] = rowEntities, rowBodyparts, rowCoords

	for _, e := range s.Entities {
		for _, k := range s.Keypoints {
			entities = append(entities, e, e, e)
			bodyparts = append(bodyparts, k, k, k)
			coords = append(coords, "x", "y", "state")
		}
	}

	return [][]string{scorerRow, entities, bodyparts, coords}
}

// WriteTable writes the header block and one placeholder row per filename.
func WriteTable(w io.Writer, s *Schema, scorer string, filenames []string) error {
	cw := csv.NewWriter(w)

	if err := cw.WriteAll(TableHeader(s, scorer)); err != nil {
		return fmt.Errorf("failed to write table header: %w", err)
	}

	triplets := s.Triplets()
	for _, name := range filenames {
		row := make([]string, 0, TableColumns(s))
		row = append(row, name)
		for range triplets {
			row = append(row, placeholder...)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row %s: %w", name, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteTableFile writes the table to path
func WriteTableFile(path string, s *Schema, scorer string, filenames []string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	return WriteTable(f, s, scorer, filenames)
}

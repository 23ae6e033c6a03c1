package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FromCSV builds a buffer from CSV files matching pattern. Rows are grouped
// into episodes by the value of episodeCol, in order of first appearance;
// rows belonging to one episode are expected to be contiguous and
// time-ordered within their file. fieldCols maps each store field name to the
// ordered list of CSV columns forming its per-timestep feature vector, so
// every ingested field is 2D with shape (steps, len(columns)).
//
// Column names are matched case-insensitively after trimming whitespace,
// against each file's own header row.
func FromCSV(pattern, episodeCol string, fieldCols map[string][]string) (*Buffer, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no CSV files found matching pattern: %s", pattern)
	}
	if len(fieldCols) == 0 {
		return nil, fmt.Errorf("no fields requested")
	}

	var order []string
	rows := make(map[string]map[string][]float32)
	for _, path := range paths {
		if err := ingestCSVFile(path, episodeCol, fieldCols, &order, rows); err != nil {
			return nil, fmt.Errorf("failed to ingest %s: %w", path, err)
		}
	}

	b := NewBuffer()
	for _, id := range order {
		fields := make(map[string]*Array, len(fieldCols))
		for name, cols := range fieldCols {
			data := rows[id][name]
			steps := len(data) / len(cols)
			arr, err := NewArray(data, steps, len(cols))
			if err != nil {
				return nil, fmt.Errorf("episode %q field %q: %w", id, name, err)
			}
			fields[name] = arr
		}
		if err := b.AddEpisode(fields); err != nil {
			return nil, fmt.Errorf("episode %q: %w", id, err)
		}
	}
	return b, nil
}

func ingestCSVFile(path, episodeCol string, fieldCols map[string][]string,
	order *[]string, rows map[string]map[string][]float32) error {

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}

	epIdx, ok := colIndex[strings.ToLower(episodeCol)]
	if !ok {
		return fmt.Errorf("episode column %q not found", episodeCol)
	}
	fieldIdx := make(map[string][]int, len(fieldCols))
	for name, cols := range fieldCols {
		idx := make([]int, len(cols))
		for i, col := range cols {
			j, ok := colIndex[strings.TrimSpace(strings.ToLower(col))]
			if !ok {
				return fmt.Errorf("column %q for field %q not found", col, name)
			}
			idx[i] = j
		}
		fieldIdx[name] = idx
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read row: %w", err)
		}

		id := record[epIdx]
		if _, seen := rows[id]; !seen {
			rows[id] = make(map[string][]float32, len(fieldCols))
			*order = append(*order, id)
		}
		for name, idx := range fieldIdx {
			for _, j := range idx {
				val, err := parseFloat32(record[j])
				if err != nil {
					return fmt.Errorf("failed to parse column %d for field %q: %w", j, name, err)
				}
				rows[id][name] = append(rows[id][name], val)
			}
		}
	}
	return nil
}

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

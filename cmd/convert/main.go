// Command convert ingests CSV recordings into a gob replay store. Rows are
// grouped into episodes by an episode-id column; each store field is built
// from an ordered list of CSV columns.
//
// Example:
//
//	convert -csv 'recordings/*.csv' -episode-col episode \
//	  -fields 'state_positions=bx,by,rx,ry;goal=gx,gy;action=ax,ay' \
//	  -out store.gob
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/robostack/boxdelivery/replay"
)

func main() {
	pattern := flag.String("csv", "", "glob pattern matching the CSV files to ingest")
	episodeCol := flag.String("episode-col", "episode", "CSV column holding the episode id")
	fieldsSpec := flag.String("fields", "", "semicolon-separated field specs, each name=col1,col2,...")
	outPath := flag.String("out", "store.gob", "path of the store to write")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *pattern == "" || *fieldsSpec == "" {
		log.Fatal().Msg("missing required -csv or -fields flag")
	}

	fieldCols, err := parseFieldsSpec(*fieldsSpec)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -fields spec")
	}

	buf, err := replay.FromCSV(*pattern, *episodeCol, fieldCols)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to ingest CSV files")
	}
	log.Info().
		Int("episodes", buf.NumEpisodes()).
		Int("steps", buf.NumSteps()).
		Strs("fields", buf.Keys()).
		Msg("ingested episodes")

	if err := buf.Save(*outPath); err != nil {
		log.Fatal().Err(err).Msg("failed to write store")
	}
	log.Info().Str("path", *outPath).Msg("wrote store")
}

// parseFieldsSpec parses "name=col1,col2;name2=col3" into the field-column
// mapping consumed by replay.FromCSV.
func parseFieldsSpec(spec string) (map[string][]string, error) {
	fieldCols := make(map[string][]string)
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, cols, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("field spec %q is missing '='", part)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("field spec %q has an empty name", part)
		}
		var colNames []string
		for _, col := range strings.Split(cols, ",") {
			col = strings.TrimSpace(col)
			if col != "" {
				colNames = append(colNames, col)
			}
		}
		if len(colNames) == 0 {
			return nil, fmt.Errorf("field %q has no columns", name)
		}
		fieldCols[name] = colNames
	}
	if len(fieldCols) == 0 {
		return nil, fmt.Errorf("no fields specified")
	}
	return fieldCols, nil
}

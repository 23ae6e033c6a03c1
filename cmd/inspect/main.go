// Command inspect summarizes a replay store: episode counts, per-field
// shapes, and optionally a PNG plot of per-episode trajectories for one
// 2D field.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"os"

	"github.com/rs/zerolog"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/robostack/boxdelivery/replay"
)

var palette = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
	{R: 140, G: 86, B: 75, A: 255},
}

func main() {
	storePath := flag.String("store", "", "path to the replay store to inspect")
	plotPath := flag.String("plot", "", "write a trajectory plot PNG to this path (optional)")
	plotKey := flag.String("plot-key", "action", "field whose first two columns are plotted")
	maxEpisodes := flag.Int("episodes", 8, "maximum number of episodes to plot")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *storePath == "" {
		log.Fatal().Msg("missing required -store flag")
	}

	buf, err := replay.CopyFromPath(*storePath, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load store")
	}

	log.Info().
		Str("store", *storePath).
		Int("episodes", buf.NumEpisodes()).
		Int("steps", buf.NumSteps()).
		Msg("loaded store")
	for _, key := range buf.Keys() {
		arr, err := buf.Get(key)
		if err != nil {
			log.Fatal().Err(err).Str("field", key).Msg("failed to read field")
		}
		log.Info().
			Str("field", key).
			Ints("shape", arr.Shape).
			Int("feature_size", arr.FeatureSize()).
			Msg("field")
	}

	if *plotPath == "" {
		return
	}
	if err := plotTrajectories(buf, *plotKey, *maxEpisodes, *plotPath); err != nil {
		log.Fatal().Err(err).Msg("failed to plot trajectories")
	}
	log.Info().Str("path", *plotPath).Str("field", *plotKey).Msg("wrote trajectory plot")
}

// plotTrajectories draws the first two feature columns of key as one line
// per episode, for up to maxEpisodes episodes.
func plotTrajectories(buf *replay.Buffer, key string, maxEpisodes int, path string) error {
	arr, err := buf.Get(key)
	if err != nil {
		return err
	}
	flat := arr.Reshape2D()
	if flat.Shape[1] < 2 {
		return fmt.Errorf("field %q has %d feature columns, need at least 2", key, flat.Shape[1])
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s trajectories", key)
	p.X.Label.Text = key + "[0]"
	p.Y.Label.Text = key + "[1]"

	n := buf.NumEpisodes()
	if n > maxEpisodes {
		n = maxEpisodes
	}
	for ep := 0; ep < n; ep++ {
		start, end := buf.EpisodeBounds(ep)
		pts := make(plotter.XYs, end-start)
		for t := start; t < end; t++ {
			row := flat.Row(t)
			pts[t-start].X = float64(row[0])
			pts[t-start].Y = float64(row[1])
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to build line for episode %d: %w", ep, err)
		}
		line.Color = palette[ep%len(palette)]
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("episode %d", ep), line)
	}

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}

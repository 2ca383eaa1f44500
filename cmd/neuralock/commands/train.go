package commands

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neuralock/neuralock/pkg/bundle"
	"github.com/neuralock/neuralock/pkg/eeg"
	"github.com/neuralock/neuralock/pkg/encoder"
	"github.com/neuralock/neuralock/pkg/train"
)

var trainFlags struct {
	data   string
	bundle string
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the encoder and derive the serving bundle",
	Long: `Expects --data to hold one subdirectory per user, each containing
processed trial files from 'neuralock preprocess'. Runs classification
warmup, proxy-anchor metric learning, then derives prototypes, the
calibrator, the anomaly detector, and the operating threshold, and
writes the whole bundle to --bundle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		trialsByUser, err := loadTrialDir(trainFlags.data)
		if err != nil {
			return err
		}
		ds, err := train.BuildDataset(trialsByUser, cfg.Window)
		if err != nil {
			return err
		}
		slog.Info("dataset built",
			slog.Int("users", ds.NumUsers()),
			slog.Int("windows", len(ds.Samples)))

		seed := cfg.Train.Seed
		enc := encoder.New(cfg.Encoder, rand.New(rand.NewPCG(seed, seed^0x1ceb00da)))
		trainer := train.New(enc, cfg.Train, slog.Default())
		res, err := trainer.Run(cmd.Context(), ds)
		if err != nil {
			return err
		}

		b, err := train.DeriveBundle(enc, ds, res, cfg.Prototype, cfg.Spoof, slog.Default())
		if err != nil {
			return err
		}

		store, err := bundle.NewLocal(trainFlags.bundle)
		if err != nil {
			return err
		}
		if err := bundle.Save(cmd.Context(), store, b); err != nil {
			return err
		}
		slog.Info("bundle written", slog.String("dir", trainFlags.bundle))
		return nil
	},
}

// loadTrialDir reads a <dir>/<user>/trial*.bin layout.
func loadTrialDir(dir string) (map[string][]*eeg.ProcessedTrial, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*eeg.ProcessedTrial)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		paths, err := filepath.Glob(filepath.Join(dir, e.Name(), "*.bin"))
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			trial, err := eeg.ReadProcessed(p)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", p, err)
			}
			out[e.Name()] = append(out[e.Name()], trial)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no user directories with trials under %s", dir)
	}
	return out, nil
}

func init() {
	trainCmd.Flags().StringVar(&trainFlags.data, "data", "data/processed", "directory of per-user processed trials")
	trainCmd.Flags().StringVar(&trainFlags.bundle, "bundle", "models/bundle", "output bundle directory")
	rootCmd.AddCommand(trainCmd)
}

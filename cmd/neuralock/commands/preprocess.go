package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neuralock/neuralock/pkg/eeg"
	"github.com/neuralock/neuralock/pkg/eeg/preprocess"
)

var preprocessFlags struct {
	input  string
	output string
}

var preprocessCmd = &cobra.Command{
	Use:   "preprocess",
	Short: "Filter, resample, and standardize raw BDF recordings",
	Long: `Reads every .bdf file under --input, cuts it into fixed-duration
trials, runs the preprocessing pipeline, and writes one processed trial
file per trial under --output/<recording-name>/.

Trials that fail filtering are dropped with a warning; the batch
continues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		paths, err := filepath.Glob(filepath.Join(preprocessFlags.input, "*.bdf"))
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no .bdf files under %s", preprocessFlags.input)
		}

		for _, path := range paths {
			name := strings.TrimSuffix(filepath.Base(path), ".bdf")
			rec, err := eeg.LoadFile(path)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			trials, err := rec.Split(cfg.TrialSeconds)
			if err != nil {
				return fmt.Errorf("segment %s: %w", path, err)
			}

			outDir := filepath.Join(preprocessFlags.output, name)
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			kept := 0
			for i, trial := range trials {
				pt, err := preprocess.Process(trial, cfg.Preprocess)
				if err != nil {
					slog.Warn("trial dropped",
						slog.String("recording", name),
						slog.Int("trial", i),
						slog.Any("error", err))
					continue
				}
				out := filepath.Join(outDir, fmt.Sprintf("trial%03d.bin", i))
				if err := eeg.WriteProcessed(out, pt); err != nil {
					return err
				}
				kept++
			}
			slog.Info("recording processed",
				slog.String("recording", name),
				slog.Int("trials", kept),
				slog.Int("dropped", len(trials)-kept))
		}
		return nil
	},
}

func init() {
	preprocessCmd.Flags().StringVar(&preprocessFlags.input, "input", "data/raw", "directory of raw .bdf recordings")
	preprocessCmd.Flags().StringVar(&preprocessFlags.output, "output", "data/processed", "output directory for processed trials")
	rootCmd.AddCommand(preprocessCmd)
}

package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/neuralock/neuralock/pkg/bundle"
	"github.com/neuralock/neuralock/pkg/eeg"
	"github.com/neuralock/neuralock/pkg/verify"
)

var enrollFlags struct {
	bundle string
	user   string
}

var enrollCmd = &cobra.Command{
	Use:   "enroll [trial files...]",
	Short: "Build a user's prototype set from reference trials",
	Long: `Embeds the given processed trial files, clusters the embeddings
into the configured number of prototypes, and writes the updated
prototype table back into the bundle. Re-enrollment overwrites the
previous set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if enrollFlags.user == "" {
			return fmt.Errorf("--user is required")
		}

		store, err := bundle.NewLocal(enrollFlags.bundle)
		if err != nil {
			return err
		}
		b, err := bundle.Load(cmd.Context(), store)
		if err != nil {
			return err
		}

		trials := make([]*eeg.ProcessedTrial, 0, len(args))
		for _, path := range args {
			trial, err := eeg.ReadProcessed(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			trials = append(trials, trial)
		}

		engine := verify.New(nil, nil, cfg.Window, cfg.Prototype, slog.Default())
		engine.Load(b)
		protos, err := engine.Enroll(cmd.Context(), enrollFlags.user, trials)
		if err != nil {
			return err
		}

		if err := bundle.Save(cmd.Context(), store, b); err != nil {
			return err
		}
		fmt.Printf("enrolled %s with %d prototypes from %d trials\n",
			enrollFlags.user, len(protos), len(trials))
		return nil
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollFlags.bundle, "bundle", "models/bundle", "bundle directory")
	enrollCmd.Flags().StringVar(&enrollFlags.user, "user", "", "user identity to enroll")
	rootCmd.AddCommand(enrollCmd)
}

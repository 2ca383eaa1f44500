package commands

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/neuralock/neuralock/pkg/bundle"
	"github.com/neuralock/neuralock/pkg/eeg"
	"github.com/neuralock/neuralock/pkg/eeg/window"
	"github.com/neuralock/neuralock/pkg/nn"
	"github.com/neuralock/neuralock/pkg/train"
)

var evalFlags struct {
	bundle string
	data   string
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Report FAR/FRR/EER over a labeled trial directory",
	Long: `Scores every trial under --data (one subdirectory per user)
against every enrolled user's prototypes and reports the error rates at
the bundle's operating threshold, plus the achievable equal-error rate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := bundle.NewLocal(evalFlags.bundle)
		if err != nil {
			return err
		}
		b, err := bundle.Load(cmd.Context(), store)
		if err != nil {
			return err
		}

		trialsByUser, err := loadTrialDir(evalFlags.data)
		if err != nil {
			return err
		}

		var genuine, impostor []float64
		users := b.Prototypes.Users()
		sort.Strings(users)
		for claimUser := range trialsByUser {
			for _, trial := range trialsByUser[claimUser] {
				emb, err := aggregateTrial(b, trial, cfg.Window)
				if err != nil {
					slog.Warn("trial skipped", slog.String("user", claimUser), slog.Any("error", err))
					continue
				}
				for _, target := range users {
					protos, err := b.Prototypes.Get(target)
					if err != nil {
						continue
					}
					best := -2.0
					for _, p := range protos {
						if s := float64(nn.Dot(emb, p)); s > best {
							best = s
						}
					}
					prob := b.Calibrator.Apply(best)
					if target == claimUser {
						genuine = append(genuine, prob)
					} else {
						impostor = append(impostor, prob)
					}
				}
			}
		}
		if len(genuine) == 0 || len(impostor) == 0 {
			return fmt.Errorf("need trials for at least two enrolled users")
		}

		far := rateAtOrAbove(impostor, b.Threshold.Value)
		frr := 1 - rateAtOrAbove(genuine, b.Threshold.Value)
		_, eer, err := train.EERThreshold(genuine, impostor)
		if err != nil {
			return err
		}

		title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
		fmt.Println(title.Render("verification report"))
		fmt.Println(strings.Repeat("─", 40))
		fmt.Printf("genuine attempts:   %d\n", len(genuine))
		fmt.Printf("impostor attempts:  %d\n", len(impostor))
		fmt.Printf("threshold (%s): %.4f\n", b.Threshold.Criterion, b.Threshold.Value)
		fmt.Printf("FAR at threshold:   %.4f\n", far)
		fmt.Printf("FRR at threshold:   %.4f\n", frr)
		fmt.Printf("achievable EER:     %.4f\n", eer)
		return nil
	},
}

// aggregateTrial reproduces the engine's embedding-level aggregation:
// mean over window embeddings, then L2-renormalize.
func aggregateTrial(b *bundle.Bundle, trial *eeg.ProcessedTrial, winCfg window.Config) ([]float32, error) {
	wins, err := window.Slide(trial, winCfg)
	if err != nil {
		return nil, err
	}
	mean := make([]float32, b.Encoder.Config().EmbeddingDim)
	for _, w := range wins {
		emb, err := b.Encoder.Encode(w)
		if err != nil {
			return nil, err
		}
		for i, v := range emb {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float32(len(wins))
	}
	if nn.Normalize(mean) == 0 {
		return nil, fmt.Errorf("zero aggregate embedding")
	}
	return mean, nil
}

func rateAtOrAbove(xs []float64, t float64) float64 {
	n := 0
	for _, x := range xs {
		if x >= t {
			n++
		}
	}
	return float64(n) / float64(len(xs))
}

func init() {
	evalCmd.Flags().StringVar(&evalFlags.bundle, "bundle", "models/bundle", "bundle directory")
	evalCmd.Flags().StringVar(&evalFlags.data, "data", "data/processed", "directory of per-user processed trials")
	rootCmd.AddCommand(evalCmd)
}

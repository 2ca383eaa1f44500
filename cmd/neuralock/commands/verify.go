package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/neuralock/neuralock/pkg/artifact"
	"github.com/neuralock/neuralock/pkg/bundle"
	"github.com/neuralock/neuralock/pkg/eeg"
	"github.com/neuralock/neuralock/pkg/verify"
)

var verifyFlags struct {
	bundle      string
	artifactDir string
	user        string
	deadlineMS  int
}

var (
	acceptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	rejectStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
)

var verifyCmd = &cobra.Command{
	Use:   "verify <probe file>",
	Short: "Score a probe trial against a claimed identity",
	Long: `Runs the full online decision for one processed probe trial:
windowing, embedding, prototype scoring, calibration, spoof gate, and
attribution. The attribution artifact id is printed for later retrieval.

This is an operator tool: it prints the internal failure kind. The
service boundary must map every failure to a bare reject instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if verifyFlags.user == "" {
			return fmt.Errorf("--user is required")
		}

		store, err := bundle.NewLocal(verifyFlags.bundle)
		if err != nil {
			return err
		}
		b, err := bundle.Load(cmd.Context(), store)
		if err != nil {
			return err
		}

		artifacts, err := artifact.Open(artifact.Options{Dir: verifyFlags.artifactDir})
		if err != nil {
			return err
		}
		defer artifacts.Close()

		strategy, err := verify.StrategyByName(cfg.Attribution.Strategy, cfg.Attribution.IGSteps)
		if err != nil {
			return err
		}
		engine := verify.New(artifacts, strategy, cfg.Window, cfg.Prototype, slog.Default())
		engine.Load(b)

		probe, err := eeg.ReadProcessed(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if verifyFlags.deadlineMS > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(verifyFlags.deadlineMS)*time.Millisecond)
			defer cancel()
		}

		res, verr := engine.Verify(ctx, verifyFlags.user, probe)
		printResult(res, verr)
		return nil
	},
}

func printResult(res verify.Result, err error) {
	decision := rejectStyle.Render("REJECT")
	if res.Decision == verify.Accept {
		decision = acceptStyle.Render("ACCEPT")
	}
	fmt.Println(decision)
	fmt.Printf("%s %.4f\n", labelStyle.Render("raw score:            "), res.RawScore)
	fmt.Printf("%s %.4f\n", labelStyle.Render("calibrated probability:"), res.Probability)
	fmt.Printf("%s %.6f\n", labelStyle.Render("spoof score:          "), res.SpoofScore)
	fmt.Printf("%s %v\n", labelStyle.Render("is spoof:             "), res.IsSpoof)
	if res.ArtifactID != "" {
		fmt.Printf("%s %s\n", labelStyle.Render("artifact:             "), res.ArtifactID)
	}
	if err != nil {
		fmt.Printf("%s %s\n", labelStyle.Render("failure kind:         "), res.Kind)
	}
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFlags.bundle, "bundle", "models/bundle", "bundle directory")
	verifyCmd.Flags().StringVar(&verifyFlags.artifactDir, "artifacts", "data/artifacts", "attribution artifact store directory")
	verifyCmd.Flags().StringVar(&verifyFlags.user, "user", "", "claimed identity")
	verifyCmd.Flags().IntVar(&verifyFlags.deadlineMS, "deadline-ms", 0, "hard verification deadline (0 = none)")
	rootCmd.AddCommand(verifyCmd)
}

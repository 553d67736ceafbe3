package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/critward/internal/classifier"
	"github.com/nextlevelbuilder/critward/internal/config"
	"github.com/nextlevelbuilder/critward/internal/evaluation"
	"github.com/nextlevelbuilder/critward/internal/store"
	"github.com/nextlevelbuilder/critward/internal/store/sqlite"
)

// evalCmd replays the evaluation corpus against the live classifier from
// the command line, without connecting to Discord.
func evalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval",
		Short: "Replay the evaluation corpus against the classifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Classifier.APIKey == "" {
				return fmt.Errorf("classifier API key not set (CRITWARD_CLASSIFIER_API_KEY)")
			}

			kv, err := sqlite.New(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer kv.Close()

			runner := evaluation.NewRunner(
				classifier.NewGateway(cfg.Classifier),
				store.NewEvalStore(kv),
				evaluation.FixedThreshold(cfg.Moderation.ConfidenceThreshold),
			)

			slog.Info("replaying evaluation corpus", "store", cfg.Store.Path)
			report, err := runner.Run(context.Background())
			if err != nil {
				return err
			}
			fmt.Println(report.Markdown())
			return nil
		},
	}
}

// corpusCmd dumps the evaluation corpus as JSON for offline inspection.
func corpusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "corpus",
		Short: "Print the evaluation corpus as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			kv, err := sqlite.New(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer kv.Close()

			examples, err := store.NewEvalStore(kv).All(context.Background())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(examples)
		},
	}
}

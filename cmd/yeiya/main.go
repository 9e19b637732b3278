// Command yeiya runs the Yeiya voice and chat assistant.
//
// Usage:
//
//	yeiya [--config config.yaml] [--env-file .env] serve
//	yeiya [--config config.yaml] talk --in question.wav --out answer.wav
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/searmo/yeiya/internal/app"
	"github.com/searmo/yeiya/internal/config"
)

var version = "dev"

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "yeiya",
	Short: "Yeiya voice and chat assistant",
	Long: `Yeiya serves the site's text chatbot and the live voice relay, and can
hold a headless voice conversation from the command line.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "yeiya %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with credentials; missing is fine")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(talkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "yeiya:", err)
		os.Exit(1)
	}
}

// loadConfig reads the dotenv file and then the YAML config, so that
// credentials kept in .env reach the environment overlay.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", cfgFile)
		}
		return nil, err
	}
	return cfg, nil
}

// newLogger returns a text logger on stderr whose level can be changed
// later through the returned LevelVar.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(app.SlogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

// buildProviders registers the built-in providers and creates the ones cfg
// selects.
func buildProviders(cmd *cobra.Command, cfg *config.Config) (*app.Providers, error) {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(cmd.Context(), reg)
	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	return providers, nil
}

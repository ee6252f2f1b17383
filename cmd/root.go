// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// flagKeys maps persistent flags onto the configuration keys they override.
var flagKeys = map[string]string{
	"provider":         "agent.llm.provider",
	"model":            "agent.llm.model",
	"max-steps":        "agent.max_steps",
	"capture":          "agent.capture_mode",
	"headless":         "browser.headless",
	"connect-existing": "browser.connect_existing",
	"cdp-url":          "browser.cdp_url",
	"dataset-dir":      "dataset.dir",
}

// NewRootCommand builds a fresh command tree, so flag state is never shared
// between executions.
func NewRootCommand() *cobra.Command {
	return newRootCmd(NewAgentProvider(), NewStoreProvider(), os.Stdin)
}

// newRootCmd wires the command tree over the given providers.
func newRootCmd(agents agentProvider, stores storeProvider, in io.Reader) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "webtrail",
		Short: "webtrail drives a browser with an LLM and records every UI state it reaches.",
		Long: `webtrail turns a natural language instruction into browser actions, one step
at a time, and saves a screenshot whenever the page reaches a visually new state.
Each run is written to <dataset.dir>/<app>/<task>_<timestamp>/ with a metadata.json.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "webtrail"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "webtrail"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting webtrail", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./webtrail.yaml)")
	pf.String("provider", "", "LLM provider: gemini, openai, groq or anthropic")
	pf.String("model", "", "model name (default depends on the provider)")
	pf.Int("max-steps", 0, "maximum actions per task")
	pf.String("capture", "", "screenshot policy per action: none, post or both")
	pf.Bool("headless", false, "run a managed browser without a window")
	pf.Bool("connect-existing", true, "attach to Chrome at --cdp-url instead of launching a managed browser")
	pf.String("cdp-url", "", "Chrome DevTools endpoint")
	pf.String("dataset-dir", "", "root directory of the screenshot dataset")

	rootCmd.AddCommand(newRunCmd(agents))
	rootCmd.AddCommand(newShellCmd(agents, in))
	rootCmd.AddCommand(newRunsCmd(stores))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command line args against ctx and logs any failure.
func Execute(ctx context.Context, args []string) error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Info("Interrupted.")
		} else {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		}
		observability.Sync()
		return err
	}
	observability.Sync()
	return nil
}

// initializeConfig loads .env, the config file and any changed flags into v.
// Environment variables are bound later by config.NewConfigFromViper.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("webtrail")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}

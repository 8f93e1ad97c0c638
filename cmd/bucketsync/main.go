package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/bucketsync/internal/config"
	"github.com/openmined/bucketsync/internal/utils"
	"github.com/openmined/bucketsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var home, _ = os.UserHomeDir()

var rootCmd = &cobra.Command{
	Use:     "bucketsync",
	Short:   "Keep a local vault and an S3 bucket in sync",
	Version: version.Get().Short(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true
		return runDaemon(cmd.Context(), cfg)
	},
}

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"vault":    "vault_dir",
	"bucket":   "bucket_name",
	"prefix":   "bucket_path_prefix",
	"region":   "region",
	"profile":  "profile",
	"endpoint": "bucket_endpoint",
}

func init() {
	rootCmd.Flags().SortFlags = false
	addConfigFlags(rootCmd)
}

func addConfigFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", config.DefaultConfigPath, "BucketSync config file")
	flags.StringP("vault", "d", config.DefaultVaultDir, "Vault directory to synchronize")
	flags.StringP("bucket", "b", "", "S3 bucket name")
	flags.String("prefix", "", "Object key prefix inside the bucket")
	flags.String("region", "", "S3 bucket region")
	flags.String("profile", "", "AWS shared config profile")
	flags.String("endpoint", "", "Custom S3 compatible endpoint")
}

func main() {
	// TODO rotate the log file once it grows past a size limit
	logFile := config.DefaultLogFilePath

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(file)
	defer logInterceptor.Close()
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// time is added by the log interceptor
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, env vars and flags, in that
// order of increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	configPath := resolveConfigPath(cmd)
	v.SetConfigFile(configPath)
	if filepath.Ext(configPath) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	// unchanged flags would shadow the config file
	for name, key := range flagKeys {
		if f := cmd.Flag(name); f != nil && f.Changed {
			v.BindPFlag(key, f)
		}
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return config.Load(ctx, v)
}

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// v holds the merged configuration: flags over GLEANER_* env over gleaner.yaml.
var v = viper.New()

var rootCmd = &cobra.Command{
	Use:           "gleaner",
	Short:         "gleaner collects reviews, followers and posts into spreadsheet exports.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		if err := loadConfig(); err != nil {
			return err
		}
		logger, err := newLogger(os.Stderr, v.GetString("log-level"), v.GetString("log-format"))
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default ./gleaner.yaml)")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.String("log-format", "text", "text or json")

	pf.String("credentials", "", "file with request headers pasted from DevTools, or a JSON5 object")
	pf.String("out-dir", ".", "directory the export files are written to")
	pf.StringSlice("format", []string{"xlsx"}, "export formats: xlsx, csv")
	pf.String("archive", "", "run archive driver: sqlite, postgres or json (empty disables)")
	pf.String("archive-dsn", "gleaner.db", "archive DSN or file path")

	pf.Duration("timeout", 30*time.Second, "per request timeout")
	pf.String("fingerprint", "go", "TLS fingerprint: go, chrome, firefox, safari, random")
	pf.String("proxy-file", "", "file with one proxy URL per line")
	pf.StringSlice("user-agent", nil, "user agents to rotate (default built-in browser identities)")
	pf.String("ua-rotation", "sequential", "identity rotation: sequential or random")
	pf.Int("metrics-port", 0, "serve Prometheus metrics on this port while running (0 disables)")

	v.SetEnvPrefix("GLEANER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func loadConfig() error {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gleaner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	switch format {
	case "", "text":
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("log format %q: want text or json", format)
	}
}

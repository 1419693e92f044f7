// Package cli implements the spi command-line interface.
package cli

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/onexay/swiftpkgindex/internal/buildinfo"
	"github.com/onexay/swiftpkgindex/internal/config"
)

type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

// Execute runs the CLI and exits with a code derived from the error.
func Execute() {
	root := newRootCommand(viper.New(), os.Stderr)
	if err := root.Execute(); err != nil {
		log.Error().Msg(errorMessage(err))
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand(v *viper.Viper, logOut io.Writer) *cobra.Command {
	opts := rootOptions{}
	cmd := &cobra.Command{
		Use:           "spi",
		Short:         "Swift package index server",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(v, opts.configFile); err != nil {
				return err
			}
			setupLogging(logOut, v.GetString("log_level"), v.GetString("log_format"))
			return nil
		},
	}
	cmd.SetVersionTemplate(buildinfo.Template())
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "Log format (console, json)")
	_ = v.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log_format", cmd.PersistentFlags().Lookup("log-format"))

	cmd.AddCommand(newServeCommand(v))
	cmd.AddCommand(newReconcileCommand(v))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func initConfig(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read config file").
				WithCause(err)
		}
		return nil
	}

	v.SetConfigName("spi")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/spi")
	// the config file is optional
	_ = v.ReadInConfig()
	return nil
}

func setupLogging(out io.Writer, level, format string) {
	if format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
	}
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func exitCodeForError(err error) int {
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument, errbuilder.CodeAlreadyExists:
		return 2
	case errbuilder.CodeFailedPrecondition, errbuilder.CodePermissionDenied:
		return 3
	case errbuilder.CodeNotFound:
		return 4
	case errbuilder.CodeInternal:
		return 5
	default:
		return 1
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}

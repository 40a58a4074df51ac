package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/dapgrid/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. Flags that were set explicitly
// override the config file and environment. It returns the validated
// configuration, a boolean indicating if the program should exit cleanly,
// or an ExitError.
func Parse(args []string, output io.Writer) (*config.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("dapgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
dapgrid - A late-bound model loading and assessment service.

Usage:
  dapgrid [options] [MODULES_PATH...]

Arguments:
  MODULES_PATH
    Directories holding model manifests, searched before the conventional
    locations. Same as --modules-path.

Environment:
  Every option can also be set through DAPGRID_<NAME>, for example
  DAPGRID_LISTEN or DAPGRID_LOOKUP_TIMEOUT. Flags take precedence.

Options:
`)
		flagSet.PrintDefaults()
	}

	def := config.Default()
	configFlag := flagSet.String("config", "", "Path to a YAML config file. Defaults to ./dapgrid.yaml when present.")
	modulesFlag := flagSet.String("modules-path", "", "Comma separated directories holding model manifests.")
	contractFlag := flagSet.String("contract", def.ContractPath, "Path to the request contract.")
	pipelineFlag := flagSet.String("pipeline", def.Pipeline, "Manifest pipeline to run for each request.")
	listenFlag := flagSet.String("listen", def.ListenAddr, "Address the HTTP server listens on.")
	logLevelFlag := flagSet.String("log-level", def.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	logFormatFlag := flagSet.String("log-format", def.LogFormat, "Log output format. Options: 'text' or 'json'.")
	lookupFlag := flagSet.Duration("lookup-timeout", def.LookupTimeout, "Bound on each customer lookup. 0 disables it.")
	rulesFlag := flagSet.Duration("rules-timeout", def.RulesTimeout, "Bound on each rules evaluation. 0 disables it.")
	shutdownFlag := flagSet.Duration("shutdown-timeout", def.ShutdownTimeout, "Time allowed for in-flight requests to drain.")
	rpsFlag := flagSet.Float64("rate-limit-rps", def.RateLimitRPS, "Requests per second allowed per client. 0 is disabled.")
	burstFlag := flagSet.Int("rate-limit-burst", def.RateLimitBurst, "Burst size per client.")
	notifyFlag := flagSet.String("notify-url", def.NotifyURL, "socket.io endpoint that receives decision events.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	cfg, err := config.Load(*configFlag)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "modules-path":
			cfg.ModulesPaths = config.SplitList(*modulesFlag)
		case "contract":
			cfg.ContractPath = *contractFlag
		case "pipeline":
			cfg.Pipeline = *pipelineFlag
		case "listen":
			cfg.ListenAddr = *listenFlag
		case "log-level":
			cfg.LogLevel = strings.ToLower(*logLevelFlag)
		case "log-format":
			cfg.LogFormat = strings.ToLower(*logFormatFlag)
		case "lookup-timeout":
			cfg.LookupTimeout = *lookupFlag
		case "rules-timeout":
			cfg.RulesTimeout = *rulesFlag
		case "shutdown-timeout":
			cfg.ShutdownTimeout = *shutdownFlag
		case "rate-limit-rps":
			cfg.RateLimitRPS = *rpsFlag
		case "rate-limit-burst":
			cfg.RateLimitBurst = *burstFlag
		case "notify-url":
			cfg.NotifyURL = *notifyFlag
		}
	})
	if flagSet.NArg() > 0 {
		cfg.ModulesPaths = append(flagSet.Args(), cfg.ModulesPaths...)
	}
	slog.Debug("Module paths determined.", "paths", cfg.ModulesPaths)

	if err := cfg.Validate(); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", cfg)
	return &cfg, false, nil
}

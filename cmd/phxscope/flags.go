package main

import (
	"github.com/orchestra-mcp/phxscope/config"
	"github.com/spf13/pflag"
)

// options are the command-line settings that are not configuration.
type options struct {
	configPath string
	headless   bool
	help       bool
}

// flagSet declares the command-line flags. Config-backed flags default
// to the zero value; only flags the user set override the config.
func flagSet() (*pflag.FlagSet, *options) {
	opts := &options{}
	fs := pflag.NewFlagSet("phxscope", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "configuration file (.json, .jsonc, .yaml)")
	fs.StringP("url", "u", "", "Phoenix socket endpoint to connect to on start")
	fs.StringSliceP("topic", "t", nil, "topic to join once connected (repeatable)")
	fs.String("listen", "", "control port address, e.g. 127.0.0.1:7070")
	fs.String("protocol", "", "Phoenix serializer version (1.0.0 or 2.0.0)")
	fs.String("log-file", "", "write JSON log records to this file")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("relay", "", "traffic relay driver (redis or amqp)")
	fs.BoolVar(&opts.headless, "headless", false, "run without the TUI, serving only the control port")
	fs.BoolVarP(&opts.help, "help", "h", false, "show help")
	return fs, opts
}

// applyFlags copies explicitly set flags onto cfg.
func applyFlags(fs *pflag.FlagSet, cfg *config.InspectorConfig) {
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	str("url", &cfg.Endpoint)
	str("listen", &cfg.Listen)
	str("protocol", &cfg.ProtocolVersion)
	str("log-file", &cfg.LogFile)
	str("log-level", &cfg.LogLevel)
	str("relay", &cfg.Relay.Driver)
	if fs.Changed("topic") {
		cfg.Topics, _ = fs.GetStringSlice("topic")
	}
}

// loadConfig resolves configuration: defaults, then the file, then the
// environment, then flags.
func loadConfig(fs *pflag.FlagSet, opts *options) (*config.InspectorConfig, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	applyFlags(fs, cfg)
	return cfg, cfg.Validate()
}

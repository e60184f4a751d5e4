// Package config loads the ambient settings shared by the node and
// controller binaries -- working directory, tick cadence, log level --
// from flags, environment variables, and defaults, in that precedence
// order.
package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds settings common to both binaries. The per-binary CLI
// contract's own positional arguments (source/destination ids, payload,
// delay) are parsed separately by each cmd/ package.
type Config struct {
	WorkDir      string
	TickInterval time.Duration
	LogLevel     string
}

// Load registers the shared ambient flags on fs, parses args, and resolves
// them through viper so OLSRSIM_-prefixed environment variables can
// override the defaults without touching the command line.
func Load(fs *pflag.FlagSet, args []string) (Config, []string, error) {
	fs.String("dir", ".", "working directory containing the mailbox files")
	fs.Duration("tick-interval", time.Second, "wall-clock duration of one simulated tick")
	fs.String("log-level", "info", "log level: debug, info, warn, or error")

	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("OLSRSIM")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, nil, err
	}

	return Config{
		WorkDir:      v.GetString("dir"),
		TickInterval: v.GetDuration("tick-interval"),
		LogLevel:     v.GetString("log-level"),
	}, fs.Args(), nil
}

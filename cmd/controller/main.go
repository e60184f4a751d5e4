// Command controller runs the medium emulator for 120 simulated ticks,
// reading topology.txt from its working directory.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mesholsr/simulator/internal/config"
	"github.com/mesholsr/simulator/internal/controller"
	"github.com/mesholsr/simulator/pkg/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "controller:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("controller", pflag.ExitOnError)
	fs.String("topology-file", "topology.txt", "path to the topology file, relative to --dir unless absolute")
	cfg, _, err := config.Load(fs, args)
	if err != nil {
		return err
	}

	topologyPath := fs.Lookup("topology-file").Value.String()
	if topologyPath == "" {
		return fmt.Errorf("--topology-file must not be empty")
	}
	if !os.IsPathSeparator(topologyPath[0]) {
		topologyPath = cfg.WorkDir + string(os.PathSeparator) + topologyPath
	}

	f, err := os.Open(topologyPath)
	if err != nil {
		return fmt.Errorf("open topology file: %w", err)
	}
	defer f.Close()

	events, err := controller.LoadChangeEvents(f)
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}

	logger := logging.New(cfg.LogLevel).With(zap.String("run_id", uuid.NewString()))
	defer logger.Sync() //nolint:errcheck

	topo := controller.NewTopology(events)
	c := controller.New(topo, cfg.WorkDir, logger)
	c.SetTickInterval(cfg.TickInterval)
	c.Run(context.Background())

	return nil
}

package controller

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesholsr/simulator/pkg/mailbox"
)

const horizonTicks = 120

// Controller emulates the wireless medium: apply timed link events, then
// fan new outbox lines out to each source's current live neighbors. A
// real ad-hoc network has no such centralized component; this one exists
// only to drive the simulation.
type Controller struct {
	topo    *Topology
	mb      *mailbox.ControllerMailbox
	logger  *zap.Logger
	tickDur time.Duration
}

// New builds a Controller over topo, using dir for mailbox file access.
func New(topo *Topology, dir string, logger *zap.Logger) *Controller {
	return &Controller{
		topo:    topo,
		mb:      mailbox.NewControllerMailbox(dir),
		logger:  logger,
		tickDur: time.Second,
	}
}

// SetTickInterval overrides the wall-clock duration of one simulated tick.
func (c *Controller) SetTickInterval(d time.Duration) {
	c.tickDur = d
}

// Run drives the controller for the full 120-tick horizon, with the
// 1-tick startup warmup that lets node processes initialize their mailbox
// files before the first tick's fan-out.
func (c *Controller) Run(ctx context.Context) {
	time.Sleep(c.tickDur)
	for i := 1; i <= horizonTicks; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := c.Tick(i); err != nil {
			c.logger.Error("tick failed", zap.Int("tick", i), zap.Error(err))
		}
		time.Sleep(c.tickDur)
	}
}

// Tick applies every change event scheduled for t, then fans new outbox
// lines out to each source's current live neighbors. Fan-out across
// sources runs concurrently since each source's mailbox files are
// independent; a write failure to one neighbor's inbox is logged and
// costs that neighbor its message, not the whole tick.
func (c *Controller) Tick(t int) error {
	c.topo.Apply(t)

	var eg errgroup.Group
	for _, source := range c.topo.Sources() {
		source := source
		neighbors := c.topo.Neighbors(source)
		eg.Go(func() error {
			lines, err := c.mb.ReadFrom(source)
			if err != nil {
				// A missing source outbox is empty, not an error; any
				// other read failure is source-local and shouldn't abort
				// the rest of the fan-out.
				c.logger.Warn("failed to read source outbox", zap.Stringer("source", source), zap.Error(err))
				return nil
			}

			var writeErrs error
			for _, line := range lines {
				for neighbor := range neighbors {
					if err := c.mb.AppendTo(neighbor, line); err != nil {
						writeErrs = multierr.Append(writeErrs, err)
					}
				}
			}
			if writeErrs != nil {
				c.logger.Warn("dropped message for one or more neighbors",
					zap.Stringer("source", source), zap.Error(writeErrs))
			}
			return nil
		})
	}
	return eg.Wait()
}

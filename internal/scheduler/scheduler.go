// Package scheduler drives the two independent periodic tasks of
// spec.md §4.8: the ping tick and the rebalance tick. Grounded on
// internal/ha/cluster.go's heartbeatLoop (time.NewTicker plus a select
// over a stop channel), run twice with independent intervals the way
// internal/monitoring/background.go ran its own ticker alongside the HA
// heartbeat.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/indutny/naughtd/internal/config"
	"github.com/indutny/naughtd/internal/node"
)

// Scheduler owns the two ticker goroutines. Errors on a single tick are
// logged by the Node operations themselves and never stop the loop, per
// spec.md §4.8.
type Scheduler struct {
	node *node.Node
	cfg  *config.Config
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Scheduler. Call Start to begin ticking.
func New(n *node.Node, cfg *config.Config) *Scheduler {
	return &Scheduler{node: n, cfg: cfg, stop: make(chan struct{})}
}

// Start launches the ping and rebalance loops. ctx bounds every
// outbound I/O a tick performs; it is not used to stop the loops
// themselves — call Stop for that.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.pingLoop(ctx)
	go s.rebalanceLoop(ctx)
}

// Stop signals both loops to exit and waits for them to return.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) pingLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingEvery.Min)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.node.SendPings(ctx)
		}
	}
}

func (s *Scheduler) rebalanceLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RebalanceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			obsolete := s.node.Rebalance(ctx)
			s.node.Remove(obsolete)
		}
	}
}

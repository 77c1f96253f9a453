// Package replication implements the .NOW replication policy and the RDB/AOF persistence block
// protocol described in spec.md §4.H.
package replication

import (
	"context"

	"github.com/sqlmodule/sqlmodule/logging"
)

// Transport is the pinned, host-owned surface a Sender uses to deliver a replicated command to
// replicas and the append-only log.
type Transport interface {
	Replicate(ctx context.Context, verb string, args []string) error
}

// Sender issues the ".NOW" sibling of a write command to replicas and the AOF, synchronously, on the
// caller's goroutine.
type Sender struct {
	transport Transport
	logger    *logging.Logger
}

// NewSender returns a Sender that delivers through transport.
func NewSender(transport Transport, logger *logging.Logger) *Sender {
	return &Sender{transport: transport, logger: logger}
}

// ReplicateNow sends the .NOW-suffixed sibling of verb with args to the replication transport. Calling
// it synchronously, on the same goroutine, right after a successful write and before the worker calls
// router.Route gives the "emitted before the client is unblocked" ordering guarantee from spec.md §5
// for free: one goroutine, two sequential calls, no extra synchronization needed.
func (s *Sender) ReplicateNow(ctx context.Context, verb string, args ...string) error {
	if s == nil || s.transport == nil {
		return nil
	}

	if err := s.transport.Replicate(ctx, verb+".NOW", args); err != nil {
		if s.logger != nil {
			s.logger.Errorw("failed to replicate command", "verb", verb, "error", err)
		}
		return err
	}

	return nil
}

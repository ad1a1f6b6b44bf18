package core

import (
	"context"

	"ClearingHouse/internal/event"
)

// Command is one event submitted to the core goroutine. Reply, when set,
// receives the processing result. A command with Snapshot set and no
// Event asks for a snapshot instead.
type Command struct {
	Event    event.Event
	Reply    chan<- error
	Snapshot chan<- SnapshotResult
}

// SnapshotResult answers a snapshot command.
type SnapshotResult struct {
	State *SnapshotState
	Err   error
}

// Run processes commands until ctx is cancelled or in is closed. It is the
// only goroutine that touches the core's state.
func (c *DeterministicCore) Run(ctx context.Context, in <-chan Command) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-in:
			if !ok {
				return nil
			}
			if cmd.Event == nil {
				if cmd.Snapshot != nil {
					snap, err := c.CreateSnapshotState()
					cmd.Snapshot <- SnapshotResult{State: snap, Err: err}
				}
				continue
			}
			err := c.ProcessEvent(cmd.Event)
			if err != nil {
				c.logger.Debug().Err(err).Str("command", cmd.Event.EventType().String()).Msg("command failed")
			}
			if cmd.Reply != nil {
				cmd.Reply <- err
			}
		}
	}
}

// Submitter hands events to a running core.
type Submitter struct {
	ch chan<- Command
}

func NewSubmitter(ch chan<- Command) *Submitter {
	return &Submitter{ch: ch}
}

// Submit enqueues evt and waits for the core's verdict.
func (s *Submitter) Submit(ctx context.Context, evt event.Event) error {
	reply := make(chan error, 1)
	select {
	case s.ch <- Command{Event: evt, Reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue hands evt to the core without waiting for the result.
func (s *Submitter) Enqueue(ctx context.Context, evt event.Event) error {
	select {
	case s.ch <- Command{Event: evt}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot captures the core state between two commands.
func (s *Submitter) Snapshot(ctx context.Context) (*SnapshotState, error) {
	reply := make(chan SnapshotResult, 1)
	select {
	case s.ch <- Command{Snapshot: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.State, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

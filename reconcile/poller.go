// ABOUTME: Cancellable status polling task bound to one session.
// ABOUTME: Polls while the run is active and stops on a terminal status or Stop.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/2389-research/mdsession/progress"
	"github.com/2389-research/mdsession/session/core"
)

// DefaultPollInterval is the status polling period while a run is active.
const DefaultPollInterval = 1500 * time.Millisecond

// Status is the server's reconciled run state for one session.
type Status struct {
	Running       bool           `json:"running"`
	Status        core.RunStatus `json:"status"`
	PID           int            `json:"pid,omitempty"`
	ExitCode      *int           `json:"exit_code,omitempty"`
	Message       string         `json:"message,omitempty"`
	ExpectedSteps int64          `json:"expected_steps,omitempty"`
}

// Source answers status and progress queries for a session.
type Source interface {
	Status(ctx context.Context, sessionID string) (Status, error)
	Progress(ctx context.Context, sessionID string) (progress.Result, error)
}

// Snapshot is the result of one poll.
type Snapshot struct {
	SessionID string
	Epoch     uint64
	Status    Status
	Progress  progress.Result
	Err       error
	At        time.Time
}

// Poller runs one polling loop. Create it with StartPoller.
type Poller struct {
	src       Source
	sessionID string
	epoch     uint64
	interval  time.Duration
	logger    *zap.Logger

	updates  chan Snapshot
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// StartPoller polls immediately and then every interval until the status is
// terminal, ctx is cancelled or Stop is called. Snapshots are delivered on
// Updates, which is closed when the loop exits. epoch is copied into each
// snapshot so a View can discard results from an earlier session switch.
func StartPoller(ctx context.Context, src Source, sessionID string, epoch uint64, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{
		src:       src,
		sessionID: sessionID,
		epoch:     epoch,
		interval:  interval,
		logger:    logger.With(zap.String("component", "poller"), zap.String("session_id", sessionID)),
		updates:   make(chan Snapshot, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// Updates delivers snapshots in poll order.
func (p *Poller) Updates() <-chan Snapshot { return p.updates }

// Done is closed when the loop has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly.
func (p *Poller) Stop() {
	p.stopOnce.Do(p.cancel)
	<-p.done
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer close(p.updates)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		snap := p.pollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		select {
		case p.updates <- snap:
		case <-ctx.Done():
			return
		}
		if snap.Err == nil && !snap.Status.Status.Active() {
			p.logger.Debug("polling stopped", zap.String("action", "poll_stopped"), zap.String("status", string(snap.Status.Status)))
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) Snapshot {
	snap := Snapshot{SessionID: p.sessionID, Epoch: p.epoch, At: time.Now()}
	st, err := p.src.Status(ctx, p.sessionID)
	if err != nil {
		snap.Err = err
		p.logger.Debug("status poll failed", zap.String("action", "poll_failed"), zap.Error(err))
		return snap
	}
	snap.Status = st
	if st.Status == core.StatusIdle {
		return snap
	}
	// Progress is best effort; an unreadable log is just unavailable.
	if res, err := p.src.Progress(ctx, p.sessionID); err == nil {
		snap.Progress = res
	}
	return snap
}

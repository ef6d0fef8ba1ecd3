// Package retry provides the deferred-work facility that flushes unsent
// messages when connectivity returns: one coalesced in-flight job, a network
// precondition, exponential backoff and a bounded attempt count.
package retry

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/pcarvalho/livechat/internal/bus"
	"go.uber.org/zap"
)

// Probe reports whether the network precondition holds.
type Probe func(ctx context.Context) bool

// Job is the deferred work. A nil return reports success; an error requests
// another attempt within the remaining budget.
type Job func(ctx context.Context) error

// Options parameterize the backoff policy.
type Options struct {
	// BaseBackoff is the delay before the second attempt; attempt n waits
	// BaseBackoff * 2^(n-2). The first attempt runs as soon as the network
	// precondition holds.
	BaseBackoff time.Duration
	// MaxAttempts caps the attempt chain; afterwards the job is abandoned
	// and retry.exhausted is published.
	MaxAttempts int
	// ProbeInterval is how often the network precondition is re-checked
	// while waiting.
	ProbeInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 2 * time.Second
	}
	return o
}

// Scheduler runs at most one retry job at a time. Schedule calls while a job
// is in flight coalesce into a single follow-up run.
type Scheduler struct {
	opts   Options
	probe  Probe
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	job     Job
	pending bool
	rerun   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. A nil probe means the network is assumed
// available. The job is attached later with Bind, which breaks the
// construction cycle between scheduler, transport and repository.
func New(opts Options, probe Probe, b *bus.Bus, logger *zap.Logger) *Scheduler {
	if probe == nil {
		probe = func(context.Context) bool { return true }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:   opts.withDefaults(),
		probe:  probe,
		bus:    b,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Bind attaches the retry job. Schedule is a no-op until a job is bound.
func (s *Scheduler) Bind(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = job
}

// Schedule requests a retry run. Requests while a job is in flight coalesce
// into a single follow-up run, so a request landing just as the job finishes
// is never lost.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job == nil {
		s.logger.Warn("retry requested before a job was bound")
		return
	}
	if s.pending {
		s.rerun = true
		return
	}
	s.pending = true
	s.wg.Add(1)
	go s.run(s.job)
}

// Stop cancels any in-flight job and waits for it to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(job Job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.rerun && s.ctx.Err() == nil {
			// A request arrived mid-flight; chain one more run. The
			// wg count is still held here, so Stop cannot have
			// returned yet.
			s.rerun = false
			s.wg.Add(1)
			go s.run(s.job)
			return
		}
		s.rerun = false
		s.pending = false
	}()

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := s.opts.BaseBackoff << (attempt - 2)
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return
			}
		}

		if !s.waitForNetwork() {
			return
		}

		err := job(s.ctx)
		if err == nil {
			return
		}
		s.logger.Warn("retry attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.opts.MaxAttempts),
			zap.Error(err))
	}

	s.logger.Error("retry budget exhausted, abandoning job",
		zap.Int("attempts", s.opts.MaxAttempts))
	s.bus.Publish(bus.Event{
		Kind:      bus.KindRetryExhausted,
		Timestamp: time.Now(),
		Payload:   s.opts.MaxAttempts,
	})
}

// waitForNetwork blocks until the precondition holds or the scheduler stops.
func (s *Scheduler) waitForNetwork() bool {
	for {
		if s.probe(s.ctx) {
			return true
		}
		select {
		case <-time.After(s.opts.ProbeInterval):
		case <-s.ctx.Done():
			return false
		}
	}
}

// DialProbe builds a Probe that checks reachability of the WebSocket
// endpoint host with a plain TCP dial.
func DialProbe(serverURL string, timeout time.Duration) (Probe, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "wss", "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	dialer := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context) bool {
		conn, err := dialer.DialContext(ctx, "tcp", host)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, nil
}

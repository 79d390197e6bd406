package brightdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultPollCeiling  = 45 * time.Second
)

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	interval time.Duration
	ceiling  time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		interval: defaultPollInterval,
		ceiling:  defaultPollCeiling,
		now:      time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// WithPollInterval overrides the fixed poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.interval = d
	}
}

// WithPollCeiling overrides the total wall-clock polling budget.
func WithPollCeiling(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.ceiling = d
	}
}

// WithClock injects the time source and sleep function, so tests can drive
// the poll loop without real delays.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) PollOption {
	return func(c *pollConfig) {
		c.now = now
		c.sleep = sleep
	}
}

// ErrPollTimeout is returned when the snapshot does not become ready
// within the polling ceiling.
var ErrPollTimeout = eris.New("brightdata: poll ceiling reached")

// PollSnapshot polls the progress endpoint at a fixed interval until the
// snapshot is ready, fails, or the wall-clock ceiling is reached.
func PollSnapshot(ctx context.Context, client Client, snapshotID string, opts ...PollOption) error {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	deadline := cfg.now().Add(cfg.ceiling)
	for {
		progress, err := client.Progress(ctx, snapshotID)
		if err != nil {
			return eris.Wrap(err, fmt.Sprintf("brightdata: poll snapshot %s", snapshotID))
		}

		switch progress.Status {
		case StatusReady:
			return nil
		case StatusFailed:
			return eris.Errorf("brightdata: snapshot %s failed", snapshotID)
		}

		if !cfg.now().Add(cfg.interval).Before(deadline) {
			return ErrPollTimeout
		}
		if err := cfg.sleep(ctx, cfg.interval); err != nil {
			return eris.Wrap(err, fmt.Sprintf("brightdata: poll snapshot %s interrupted", snapshotID))
		}
	}
}

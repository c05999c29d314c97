package combivox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultPollInterval is used when the configured interval is zero.
	DefaultPollInterval = 5 * time.Second
	minPollInterval     = time.Second
	maxPollInterval     = 5 * time.Minute

	// cycleRetries bounds the in-cycle fetch retries so one bad cycle
	// never outlives the next tick by much.
	cycleRetries = 2

	// failureThreshold is how many consecutive failed cycles it takes to
	// declare the panel unavailable.
	failureThreshold = 3

	// degradedRetryCycles spaces out login retries while the session is
	// degraded, so a wrong code does not lock out the installer.
	degradedRetryCycles = 12
)

// Update is one poller publication: either a fresh snapshot or an
// availability change. Snapshot always carries the last good state, even
// when Available is false.
type Update struct {
	Snapshot  Snapshot
	Available bool
}

// Poller periodically fetches the panel status and republishes it.
// Consumers only ever see the last known good snapshot or an explicit
// unavailable flag, never a partially decoded state.
type Poller struct {
	client   *Client
	interval time.Duration
	retries  uint64

	mu        sync.Mutex
	latest    Snapshot
	hasLatest bool
	available bool
	failures  int
	degraded  int

	updates chan Update
}

// NewPoller wires a poller to a client. The interval is clamped to
// 1s..5m; zero selects the default.
func NewPoller(client *Client, interval time.Duration) *Poller {
	if interval == 0 {
		interval = DefaultPollInterval
	}
	if interval < minPollInterval {
		interval = minPollInterval
	}
	if interval > maxPollInterval {
		interval = maxPollInterval
	}
	return &Poller{
		client:   client,
		interval: interval,
		retries:  cycleRetries,
		updates:  make(chan Update, 1),
	}
}

// Interval returns the effective poll interval after clamping.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Latest returns the last known good snapshot and whether the panel is
// currently considered available. The snapshot stays valid after the
// panel goes unavailable; ok is false only before the first success.
func (p *Poller) Latest() (snap Snapshot, available, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.available, p.hasLatest
}

// Updates is a latest-wins channel: a slow consumer sees the newest
// publication, never a backlog.
func (p *Poller) Updates() <-chan Update {
	return p.updates
}

// Run polls until the context ends. One cycle runs at a time: ticks that
// fire while a cycle is still in flight are dropped, not queued.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.cycle(ctx)
			select {
			case <-t.C:
			default:
			}
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	switch p.client.Session().State() {
	case Degraded:
		// status still polls anonymously; retry the login only every
		// few cycles
		p.degraded++
		if p.degraded >= degradedRetryCycles {
			p.degraded = 0
			if err := p.client.Authenticate(ctx); err != nil {
				log.Warn("session still degraded", "err", err)
			}
		}
	default:
		p.degraded = 0
		if err := p.client.EnsureAuthenticated(ctx); err != nil {
			log.Warn("could not authenticate, polling anonymously", "err", err)
		}
	}

	snap, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.fail(err)
		return
	}
	p.publish(snap)
}

// fetch runs the status request with bounded exponential backoff. An
// expired session gets exactly one forced re-login inside the cycle.
func (p *Poller) fetch(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	reauthed := false

	op := func() error {
		s, err := p.client.Status(ctx)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) && !reauthed {
				reauthed = true
				if aerr := p.client.Authenticate(ctx); aerr != nil {
					log.Warn("re-login after expiry failed", "err", aerr)
				}
			}
			return err
		}
		snap = s
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (p *Poller) publish(snap Snapshot) {
	p.mu.Lock()
	recovered := !p.available && p.hasLatest
	p.latest = snap
	p.hasLatest = true
	p.available = true
	p.failures = 0
	p.mu.Unlock()

	if recovered {
		log.Info("panel recovered")
	}
	p.push(Update{Snapshot: snap, Available: true})
}

func (p *Poller) fail(err error) {
	p.mu.Lock()
	p.failures++
	flip := p.available && p.failures >= failureThreshold
	if flip {
		p.available = false
	}
	last := p.latest
	p.mu.Unlock()

	log.Warn("poll cycle failed", "err", err)
	if flip {
		log.Error("panel unavailable", "failures", failureThreshold)
		p.push(Update{Snapshot: last, Available: false})
	}
}

// push replaces whatever is sitting unread in the channel.
func (p *Poller) push(u Update) {
	for {
		select {
		case p.updates <- u:
			return
		default:
			select {
			case <-p.updates:
			default:
			}
		}
	}
}

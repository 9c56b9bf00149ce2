// Package poller drives a nearby session from the client side: it registers
// once, then periodically reports the device position and keeps the latest
// board.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/nearby/internal/client"
	"github.com/example/nearby/internal/location"
	"github.com/example/nearby/internal/models"
)

const (
	DefaultInterval       = 20 * time.Second
	DefaultLocateTimeout  = 10 * time.Second
	DefaultRequestTimeout = 5 * time.Second
)

var (
	ErrAlreadyActive   = errors.New("session already active")
	ErrSessionEnded    = errors.New("session ended during request")
	ErrRefreshInFlight = errors.New("refresh already in flight")
)

type State int

const (
	Unregistered State = iota
	Registering
	Ranking
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Ranking:
		return "ranking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session identifies the local user across requests.
type Session struct {
	EntityID string
	Name     string
}

// Snapshot is a consistent view of the driver. Results is shared with the
// driver and must not be modified.
type Snapshot struct {
	State   State
	Session Session
	Results []models.RankedResult
	// Version increases every time Results is replaced.
	Version uint64
}

// API is the server surface the driver calls.
type API interface {
	Register(ctx context.Context, name string, at models.Coord) (models.Entity, error)
	Close(ctx context.Context, id string, at models.Coord) ([]models.RankedResult, error)
}

type Config struct {
	Interval       time.Duration
	LocateTimeout  time.Duration
	RequestTimeout time.Duration
	// OnChange is called outside the driver lock whenever the board or the
	// session changes.
	OnChange func(Snapshot)
}

type Driver struct {
	api API
	loc location.Provider
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	state   State
	session Session
	results []models.RankedResult
	version uint64
	// token changes on every login and logout; responses dispatched under
	// an older token are dropped.
	token uint64
	// pending is a registration whose first board failed. A retried Login
	// for the same name reuses it instead of registering again.
	pending    Session
	pendingFor string

	refreshing atomic.Bool
}

func New(api API, loc location.Provider, cfg Config, log *slog.Logger) *Driver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LocateTimeout <= 0 {
		cfg.LocateTimeout = DefaultLocateTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Driver{api: api, loc: loc, cfg: cfg, log: log}
}

// Retryable reports whether a Login or Refresh error is transient. Server
// rejections (4xx other than 429) are not: resending the same request gets
// the same answer.
func Retryable(err error) bool {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests
	}
	return errors.Is(err, location.ErrUnavailable) || errors.Is(err, client.ErrNetwork) || errors.Is(err, ErrSessionEnded)
}

func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Driver) snapshotLocked() Snapshot {
	return Snapshot{State: d.state, Session: d.session, Results: d.results, Version: d.version}
}

// Login registers name at the current device position and fetches the
// first board. On failure the driver returns to Unregistered. If only the
// board request failed, the next Login for the same name keeps the id the
// server already assigned.
func (d *Driver) Login(ctx context.Context, name string) error {
	d.mu.Lock()
	if d.state != Unregistered {
		d.mu.Unlock()
		return ErrAlreadyActive
	}
	d.state = Registering
	d.token++
	tok := d.token
	d.mu.Unlock()

	fail := func(err error) error {
		d.mu.Lock()
		if d.token == tok {
			d.state = Unregistered
		}
		d.mu.Unlock()
		d.log.WarnContext(ctx, "login failed", "error", err)
		return fmt.Errorf("login: %w", err)
	}

	at, err := d.locate(ctx)
	if err != nil {
		return fail(err)
	}
	sess, err := d.register(ctx, tok, name, at)
	if err != nil {
		return fail(err)
	}
	res, err := d.rank(ctx, sess.EntityID, at)
	if err != nil {
		if !Retryable(err) {
			d.mu.Lock()
			d.pending, d.pendingFor = Session{}, ""
			d.mu.Unlock()
		}
		return fail(err)
	}

	d.mu.Lock()
	if d.token != tok {
		d.mu.Unlock()
		return fmt.Errorf("login: %w", ErrSessionEnded)
	}
	d.state = Ranking
	d.session = sess
	d.pending, d.pendingFor = Session{}, ""
	d.results = res
	d.version++
	snap := d.snapshotLocked()
	d.mu.Unlock()

	d.log.InfoContext(ctx, "logged in", "user_id", sess.EntityID, "results", len(res))
	d.notify(snap)
	return nil
}

// Logout drops the session. Responses still in flight are discarded.
func (d *Driver) Logout() {
	d.mu.Lock()
	d.token++
	d.state = Unregistered
	d.session = Session{}
	d.pending, d.pendingFor = Session{}, ""
	d.results = nil
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.notify(snap)
}

// Refresh reports the current position and updates the board if it
// changed. It returns nil without doing anything outside Ranking, and
// ErrRefreshInFlight if another refresh has not finished. Failures leave
// the previous board and state in place.
func (d *Driver) Refresh(ctx context.Context) error {
	if !d.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInFlight
	}
	defer d.refreshing.Store(false)

	d.mu.Lock()
	if d.state != Ranking {
		d.mu.Unlock()
		return nil
	}
	tok, id := d.token, d.session.EntityID
	d.mu.Unlock()

	at, err := d.locate(ctx)
	if err != nil {
		d.log.WarnContext(ctx, "refresh: location failed, keeping previous board", "error", err)
		return err
	}
	res, err := d.rank(ctx, id, at)
	if err != nil {
		d.log.WarnContext(ctx, "refresh: request failed, keeping previous board", "user_id", id, "error", err)
		return err
	}
	d.apply(ctx, tok, res)
	return nil
}

func (d *Driver) apply(ctx context.Context, tok uint64, res []models.RankedResult) {
	d.mu.Lock()
	if d.token != tok || d.state != Ranking {
		d.mu.Unlock()
		d.log.DebugContext(ctx, "dropping response for ended session")
		return
	}
	if slices.Equal(d.results, res) {
		d.mu.Unlock()
		return
	}
	d.results = res
	d.version++
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.notify(snap)
}

// Run refreshes on every tick until ctx is done. Ticks that fire while a
// refresh is still running are skipped.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = d.Refresh(ctx)
		}
	}
}

func (d *Driver) register(ctx context.Context, tok uint64, name string, at models.Coord) (Session, error) {
	d.mu.Lock()
	if d.pending.EntityID != "" && d.pendingFor == name {
		sess := d.pending
		d.mu.Unlock()
		d.log.InfoContext(ctx, "reusing registration", "user_id", sess.EntityID)
		return sess, nil
	}
	d.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()
	e, err := d.api.Register(rctx, name, at)
	if err != nil {
		return Session{}, err
	}
	sess := Session{EntityID: e.ID, Name: e.Name}
	d.mu.Lock()
	if d.token == tok {
		d.pending, d.pendingFor = sess, name
	}
	d.mu.Unlock()
	return sess, nil
}

func (d *Driver) rank(ctx context.Context, id string, at models.Coord) ([]models.RankedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()
	return d.api.Close(ctx, id, at)
}

// locate bounds the provider call even if the provider ignores ctx.
func (d *Driver) locate(ctx context.Context) (models.Coord, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LocateTimeout)
	defer cancel()

	type result struct {
		c   models.Coord
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := d.loc.Locate(ctx)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && !errors.Is(r.err, location.ErrUnavailable) {
			r.err = fmt.Errorf("%w: %w", location.ErrUnavailable, r.err)
		}
		return r.c, r.err
	case <-ctx.Done():
		return models.Coord{}, errors.Join(location.ErrUnavailable, ctx.Err())
	}
}

func (d *Driver) notify(s Snapshot) {
	if d.cfg.OnChange != nil {
		d.cfg.OnChange(s)
	}
}

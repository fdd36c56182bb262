// Package daemon runs the background process that keeps a bus healthy:
// it periodically reconciles subscriber presence, fires scheduled prompts
// and mirrors the event log into the history index. A Unix socket beside
// the bus accepts control requests from the CLI.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"ufoo/pkg/bus"
	"ufoo/pkg/eventlog"
	"ufoo/pkg/store"
)

// State is the daemon lifecycle state.
type State string

// Lifecycle: stopped -> starting -> running -> stopping -> stopped.
const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = 2 * time.Second

// HistorySyncer mirrors new bus events into a secondary index.
type HistorySyncer interface {
	Sync(ctx context.Context, src eventlog.Source) (int, error)
}

// Config holds daemon settings. Zero values select defaults.
type Config struct {
	Interval time.Duration
	Logger   *log.Logger
	Now      func() time.Time
	PID      int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.PID == 0 {
		c.PID = os.Getpid()
	}
	return c
}

// TickStatus is the metadata recorded in .daemon.status.json.
type TickStatus struct {
	State       State    `json:"state"`
	PID         int      `json:"pid"`
	Interval    string   `json:"interval"`
	StartedAt   string   `json:"started_at,omitempty"`
	LastTickAt  string   `json:"last_tick_at,omitempty"`
	Ticks       int64    `json:"ticks"`
	Deactivated []string `json:"deactivated,omitempty"`
	CronRuns    int      `json:"cron_runs"`
	CronTasks   int      `json:"cron_tasks"`
	Indexed     int      `json:"indexed"`
}

// Daemon owns the tick loop and the control socket for one bus.
type Daemon struct {
	bus     *bus.Bus
	cron    *Cron
	history HistorySyncer
	cfg     Config
	logger  *log.Logger

	tickMu sync.Mutex

	mu     sync.Mutex
	state  State
	status TickStatus
}

// New creates a daemon for b. history may be nil.
func New(b *bus.Bus, history HistorySyncer, cfg Config) *Daemon {
	cfg = cfg.withDefaults()
	cronLogger := log.New(cfg.Logger.Writer(), "[cron] ", cfg.Logger.Flags())
	return &Daemon{
		bus:     b,
		cron:    NewCron(b.Layout().CronFile(), b, cronLogger, cfg.Now),
		history: history,
		cfg:     cfg,
		logger:  cfg.Logger,
		state:   StateStopped,
		status: TickStatus{
			State:    StateStopped,
			PID:      cfg.PID,
			Interval: cfg.Interval.String(),
		},
	}
}

// Cron returns the scheduled job controller.
func (d *Daemon) Cron() *Cron { return d.cron }

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Daemon) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.status.State = s
	snapshot := d.status
	d.mu.Unlock()
	d.writeStatus(snapshot)
}

// Status returns a copy of the current tick metadata.
func (d *Daemon) Status() TickStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.status
	st.Deactivated = append([]string(nil), d.status.Deactivated...)
	return st
}

// Run writes the pid file, serves the control socket and ticks until ctx is
// cancelled. The pid file and socket are removed on return.
func (d *Daemon) Run(ctx context.Context) error {
	layout := d.bus.Layout()
	d.setState(StateStarting)

	if err := WritePIDFile(layout.DaemonPIDFile(), d.cfg.PID); err != nil {
		d.setState(StateStopped)
		return err
	}
	defer func() { _ = RemovePIDFile(layout.DaemonPIDFile()) }()

	sock := layout.DaemonSocket()
	if err := os.Remove(sock); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.setState(StateStopped)
		return fmt.Errorf("remove stale socket %s: %w", sock, err)
	}
	ln, err := net.Listen("unix", sock) //nolint:noctx // UDS bind is instant
	if err != nil {
		d.setState(StateStopped)
		return fmt.Errorf("listen unix %s: %w", sock, err)
	}
	defer func() {
		_ = ln.Close()
		_ = os.Remove(sock)
	}()

	restored := d.cron.Recover()

	d.mu.Lock()
	d.status.StartedAt = d.cfg.Now().UTC().Format(time.RFC3339)
	d.mu.Unlock()
	d.setState(StateRunning)
	d.logger.Printf("running (pid %d, interval %s, %d cron tasks restored)", d.cfg.PID, d.cfg.Interval, restored)

	go serveControl(ctx, ln, d, d.logger)

	d.Tick(ctx)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.setState(StateStopping)
			_ = ln.Close()
			d.setState(StateStopped)
			d.logger.Printf("stopped")
			return nil
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one maintenance pass: presence cleanup, due cron jobs and the
// history sync. Failures are logged and never abort the pass.
func (d *Daemon) Tick(ctx context.Context) TickStatus {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	now := d.cfg.Now()

	deactivated, err := d.bus.Cleanup()
	if err != nil {
		d.logger.Printf("cleanup: %v", err)
	}
	for _, id := range deactivated {
		d.logger.Printf("subscriber %s marked inactive", id)
	}

	runs := d.cron.RunDue(now)

	indexed := 0
	if d.history != nil {
		n, err := d.history.Sync(ctx, d.bus)
		if err != nil {
			d.logger.Printf("history sync: %v", err)
		}
		indexed = n
	}

	d.mu.Lock()
	d.status.Ticks++
	d.status.LastTickAt = now.UTC().Format(time.RFC3339)
	d.status.Deactivated = deactivated
	d.status.CronRuns = runs
	d.status.CronTasks = len(d.cron.List())
	d.status.Indexed = indexed
	snapshot := d.status
	d.mu.Unlock()

	d.writeStatus(snapshot)
	return snapshot
}

func (d *Daemon) writeStatus(st TickStatus) {
	if !d.bus.Initialized() {
		return
	}
	if err := store.WriteJSON(d.bus.Layout().DaemonStatusFile(), st); err != nil {
		d.logger.Printf("write status: %v", err)
	}
}

// HandleControl answers a control socket request.
func (d *Daemon) HandleControl(ctx context.Context, req Request) (any, error) {
	switch req.Op {
	case ControlStatus:
		return d.Status(), nil
	case ControlTick:
		return d.Tick(ctx), nil
	case ControlCron:
		res := d.cron.Handle(req.Args)
		if !res.OK {
			return nil, errors.New(res.Error)
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unsupported op %q", req.Op)
	}
}

// ReadStatusFile returns the last recorded tick metadata.
func ReadStatusFile(path string) (TickStatus, bool) {
	var st TickStatus
	ok := store.ReadJSON(path, &st)
	return st, ok
}

package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"ufoo/pkg/bus"
	"ufoo/pkg/store"
)

// cronStateVersion is written into cron.tasks.json.
const cronStateVersion = 1

// Sender publishes a message on the bus. *bus.Bus satisfies it.
type Sender interface {
	Send(target, message, publisher string) (bus.SendResult, error)
}

// Task is one scheduled job. Exactly one of IntervalMs and OnceAtMs is set.
type Task struct {
	ID         string   `json:"id"`
	IntervalMs int64    `json:"intervalMs"`
	OnceAtMs   int64    `json:"onceAtMs"`
	Targets    []string `json:"targets"`
	Prompt     string   `json:"prompt"`
	CreatedAt  int64    `json:"createdAt"`
	LastRunAt  int64    `json:"lastRunAt"`
	TickCount  int      `json:"tickCount"`

	nextRunAt int64
}

// Once reports whether the task is a one-shot job.
func (t *Task) Once() bool { return t.OnceAtMs > 0 }

// TaskView is the listing form of a task.
type TaskView struct {
	ID         string   `json:"id"`
	Mode       string   `json:"mode"`
	IntervalMs int64    `json:"intervalMs"`
	Interval   string   `json:"interval"`
	OnceAtMs   int64    `json:"onceAtMs"`
	OnceAt     string   `json:"onceAt"`
	Targets    []string `json:"targets"`
	Prompt     string   `json:"prompt"`
	CreatedAt  int64    `json:"createdAt"`
	LastRunAt  int64    `json:"lastRunAt"`
	TickCount  int      `json:"tickCount"`
	Summary    string   `json:"summary"`
}

// CronResult is the reply to a cron operation over the control socket.
type CronResult struct {
	Action    string     `json:"action"`
	Operation string     `json:"operation"`
	OK        bool       `json:"ok"`
	Error     string     `json:"error,omitempty"`
	ID        string     `json:"id,omitempty"`
	Stopped   int        `json:"stopped,omitempty"`
	Count     int        `json:"count"`
	Task      *TaskView  `json:"task,omitempty"`
	Tasks     []TaskView `json:"tasks,omitempty"`
}

type cronState struct {
	Version int     `json:"version"`
	Seq     int     `json:"seq"`
	Tasks   []*Task `json:"tasks"`
}

// Cron schedules prompts to bus targets. It is driven by RunDue from the
// daemon tick rather than by timers of its own.
type Cron struct {
	path   string
	sender Sender
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	seq   int
	tasks []*Task
}

// NewCron returns a controller persisting to path. A nil logger uses the
// standard logger; a nil clock uses time.Now.
func NewCron(path string, sender Sender, logger *log.Logger, now func() time.Time) *Cron {
	if logger == nil {
		logger = log.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Cron{path: path, sender: sender, logger: logger, now: now}
}

var taskIDRe = regexp.MustCompile(`(?i)^c(\d+)$`)

// Recover loads persisted tasks. Expired one-shot jobs, invalid records and
// duplicate ids are discarded; interval jobs are re-armed from now. The
// file is rewritten when anything was discarded. It returns the number of
// tasks restored.
func (c *Cron) Recover() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Printf("cron load failed: %v", err)
		}
		return 0
	}
	var state cronState
	if err := json.Unmarshal(data, &state); err != nil {
		c.logger.Printf("cron load failed: %v", err)
		return 0
	}
	if state.Seq > c.seq {
		c.seq = state.Seq
	}

	nowMs := c.now().UnixMilli()
	changed := false
	seen := make(map[string]bool)
	for _, raw := range state.Tasks {
		if raw == nil {
			changed = true
			continue
		}
		raw.ID = strings.TrimSpace(raw.ID)
		if m := taskIDRe.FindStringSubmatch(raw.ID); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > c.seq {
				c.seq = n
			}
		}
		raw.Targets = dedupe(raw.Targets)
		raw.Prompt = strings.TrimSpace(raw.Prompt)

		switch {
		case raw.Prompt == "" || len(raw.Targets) == 0:
			changed = true
			continue
		case raw.Once() && raw.OnceAtMs <= nowMs:
			changed = true
			continue
		case !raw.Once() && raw.IntervalMs < MinInterval.Milliseconds():
			changed = true
			continue
		case raw.ID != "" && seen[raw.ID]:
			changed = true
			continue
		}
		if raw.Once() {
			raw.IntervalMs = 0
		}
		if raw.CreatedAt <= 0 {
			raw.CreatedAt = nowMs
		}
		c.arm(raw, nowMs)
		c.tasks = append(c.tasks, raw)
		if raw.ID != "" {
			seen[raw.ID] = true
		}
	}

	// Ids are assigned once the persisted counter is fully known.
	for _, t := range c.tasks {
		if t.ID == "" {
			t.ID = c.nextID()
			changed = true
		}
	}

	if changed || len(state.Tasks) == 0 {
		c.persist()
	}
	return len(c.tasks)
}

func (c *Cron) nextID() string {
	c.seq++
	return "c" + strconv.Itoa(c.seq)
}

// arm schedules the next run: the one-shot time, or one interval from now.
func (c *Cron) arm(t *Task, nowMs int64) {
	if t.Once() {
		t.nextRunAt = t.OnceAtMs
		return
	}
	t.nextRunAt = nowMs + t.IntervalMs
}

// Add validates op and schedules a new task.
func (c *Cron) Add(op CronOp) (TaskView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowMs := c.now().UnixMilli()
	if err := validateStart(op, nowMs); err != nil {
		return TaskView{}, err
	}
	t := &Task{
		ID:         c.nextID(),
		IntervalMs: op.IntervalMs,
		OnceAtMs:   op.OnceAtMs,
		Targets:    dedupe(op.Targets),
		Prompt:     strings.TrimSpace(op.Prompt),
		CreatedAt:  nowMs,
	}
	if t.Once() {
		t.IntervalMs = 0
	}
	c.arm(t, nowMs)
	c.tasks = append(c.tasks, t)
	c.persist()
	return viewOf(t), nil
}

// List returns every scheduled task in creation order.
func (c *Cron) List() []TaskView {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TaskView, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, viewOf(t))
	}
	return out
}

// Stop removes the task with id, or every task when id is "all". It returns
// how many tasks were removed.
func (c *Cron) Stop(id string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return 0, invalid("cron stop requires id or all")
	}
	if id == "all" {
		n := len(c.tasks)
		if n == 0 {
			return 0, nil
		}
		c.tasks = nil
		c.persist()
		return n, nil
	}
	for i, t := range c.tasks {
		if t.ID == id {
			c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
			c.persist()
			return 1, nil
		}
	}
	return 0, fmt.Errorf("cron task not found: %s: %w", id, bus.ErrNotFound)
}

// RunDue runs every task whose next run time has passed. Interval tasks are
// re-armed from now; one-shot tasks are removed after running. It returns
// how many tasks ran.
func (c *Cron) RunDue(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowMs := now.UnixMilli()
	ran := 0
	kept := c.tasks[:0]
	for _, t := range c.tasks {
		if t.nextRunAt > nowMs {
			kept = append(kept, t)
			continue
		}
		c.run(t, nowMs)
		ran++
		if t.Once() {
			continue
		}
		c.arm(t, nowMs)
		kept = append(kept, t)
	}
	c.tasks = kept
	if ran > 0 {
		c.persist()
	}
	return ran
}

// run dispatches the prompt to every target independently. Failures are
// logged and never stop the remaining targets.
func (c *Cron) run(t *Task, nowMs int64) {
	t.LastRunAt = nowMs
	t.TickCount++
	if c.sender == nil {
		return
	}
	for _, target := range t.Targets {
		if _, err := c.sender.Send(target, t.Prompt, bus.HiddenAgent); err != nil {
			c.logger.Printf("cron dispatch failed task=%s target=%s: %v", t.ID, target, err)
		}
	}
}

// persist writes the task file atomically. Failures are logged.
func (c *Cron) persist() {
	if c.path == "" {
		return
	}
	state := cronState{Version: cronStateVersion, Seq: c.seq, Tasks: c.tasks}
	if state.Tasks == nil {
		state.Tasks = []*Task{}
	}
	if err := store.WriteJSON(c.path, state); err != nil {
		c.logger.Printf("cron persist failed: %v", err)
	}
}

// Handle applies a loosely specified cron operation and reports the result
// in the shape returned over the control socket.
func (c *Cron) Handle(args map[string]any) CronResult {
	op := NormalizeCronOp(args)
	res := CronResult{Action: "cron", Operation: op.Operation}

	switch op.Operation {
	case OpList:
		res.Tasks = c.List()
		res.Count = len(res.Tasks)
		res.OK = true
	case OpStop:
		res.ID = op.ID
		n, err := c.Stop(op.ID)
		if err != nil {
			if errors.Is(err, bus.ErrNotFound) {
				res.Error = "cron task not found: " + op.ID
			} else {
				res.Error = err.Error()
			}
			return res
		}
		res.Stopped = n
		res.OK = true
	case OpStart:
		view, err := c.Add(op)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Task = &view
		res.OK = true
	default:
		res.Error = "unsupported cron operation: " + op.Operation
	}
	return res
}

func viewOf(t *Task) TaskView {
	v := TaskView{
		ID:         t.ID,
		Mode:       "interval",
		IntervalMs: t.IntervalMs,
		Interval:   FormatIntervalMs(t.IntervalMs),
		OnceAtMs:   t.OnceAtMs,
		Targets:    append([]string(nil), t.Targets...),
		Prompt:     t.Prompt,
		CreatedAt:  t.CreatedAt,
		LastRunAt:  t.LastRunAt,
		TickCount:  t.TickCount,
	}
	if t.Once() {
		v.Mode = "once"
		v.OnceAt = FormatAtMs(t.OnceAtMs, time.Local)
	}
	v.Summary = summarize(v)
	return v
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// summarize renders a one-line description such as
// "c1@30m->codex+claude-code: review the open PRs".
func summarize(v TaskView) string {
	prompt := strings.NewReplacer("{", "", "}", "").Replace(v.Prompt)
	prompt = strings.TrimSpace(whitespaceRe.ReplaceAllString(prompt, " "))
	if r := []rune(prompt); len(r) > 24 {
		prompt = string(r[:24]) + "..."
	}
	if prompt == "" {
		prompt = "(empty)"
	}
	targets := strings.Join(v.Targets, "+")
	if v.Mode == "once" {
		return fmt.Sprintf("%s@once(%s)->%s: %s", v.ID, v.OnceAt, targets, prompt)
	}
	return fmt.Sprintf("%s@%s->%s: %s", v.ID, v.Interval, targets, prompt)
}

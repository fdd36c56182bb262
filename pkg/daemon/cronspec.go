package daemon

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ufoo/pkg/bus"
)

// Cron operations accepted by HandleOp.
const (
	OpStart = "start"
	OpList  = "list"
	OpStop  = "stop"
)

// MinInterval is the shortest accepted repeat interval.
const MinInterval = time.Second

// CronOp is the canonical form of a loosely specified cron request.
type CronOp struct {
	Operation  string
	IntervalMs int64
	OnceAtMs   int64
	Targets    []string
	Prompt     string
	ID         string
}

// validationError carries a user-facing message and matches
// bus.ErrValidation.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
func (e *validationError) Unwrap() error { return bus.ErrValidation }

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// NormalizeCronOp maps a loose option map (as sent over the control socket
// or assembled by the CLI) onto a CronOp. Unknown keys are ignored.
func NormalizeCronOp(args map[string]any) CronOp {
	return CronOp{
		Operation:  canonicalOperation(resolveOperation(args)),
		IntervalMs: resolveIntervalMs(args),
		OnceAtMs:   resolveOnceAtMs(args),
		Targets:    resolveTargets(args),
		Prompt:     firstString(args, "prompt", "message", "msg"),
		ID:         firstString(args, "id", "task_id", "taskId"),
	}
}

func resolveOperation(args map[string]any) string {
	if raw := strings.ToLower(firstString(args, "operation", "op", "command")); raw != "" {
		return raw
	}
	if b, _ := args["list"].(bool); b {
		return OpList
	}
	if b, _ := args["stop"].(bool); b {
		return OpStop
	}
	if firstString(args, "id", "task_id", "taskId") != "" {
		return OpStop
	}
	return OpStart
}

func canonicalOperation(op string) string {
	switch op {
	case "start", "add", "create":
		return OpStart
	case "list", "ls":
		return OpList
	case "stop", "rm", "remove":
		return OpStop
	default:
		return op
	}
}

func resolveTargets(args map[string]any) []string {
	var listed []string
	switch list := args["targets"].(type) {
	case []any:
		for _, item := range list {
			listed = append(listed, toString(item))
		}
	case []string:
		listed = list
	}
	if out := dedupe(listed); len(out) > 0 {
		return out
	}

	var merged []string
	for _, key := range []string{"targets", "target", "agent", "to"} {
		merged = append(merged, strings.Split(toString(args[key]), ",")...)
	}
	return dedupe(merged)
}

// dedupe trims, drops empty entries and removes duplicates preserving
// first-seen order.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func resolveIntervalMs(args map[string]any) int64 {
	if n, ok := firstNumber(args, "interval_ms", "intervalMs"); ok && n > 0 {
		return n
	}
	raw := firstString(args, "every", "interval", "ms")
	if raw == "" {
		return 0
	}
	return ParseIntervalMs(raw)
}

func resolveOnceAtMs(args map[string]any) int64 {
	if n, ok := firstNumber(args, "once_at_ms", "onceAtMs", "at_ms", "atMs", "run_at_ms", "runAtMs"); ok && n > 0 {
		return n
	}
	raw := firstString(args, "at", "once", "run_at", "runAt", "datetime", "date_time")
	if raw == "" {
		date, clock := toString(args["date"]), toString(args["time"])
		if date != "" && clock != "" {
			raw = date + " " + clock
		}
	}
	if raw == "" {
		return 0
	}
	return ParseAtMs(raw, time.Local)
}

func firstString(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := toString(args[k]); s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(args map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		v, present := args[k]
		if !present || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(math.Floor(n)), true
		case int:
			return int64(n), true
		case int64:
			return n, true
		case string:
			if p, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return int64(math.Floor(p)), true
			}
		}
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool, []any, []string, map[string]any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

var intervalRe = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*(ms|s|sec|secs|m|min|mins|h|hr|hrs|d|day|days)?$`)

// ParseIntervalMs parses "<n>ms|s|m|h|d", Go durations such as "1h30m" and
// bare numbers (seconds). It returns 0 when text is not an interval.
func ParseIntervalMs(text string) int64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	if m := intervalRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0
		}
		unit := float64(time.Second / time.Millisecond)
		switch strings.ToLower(m[2]) {
		case "ms":
			unit = 1
		case "m", "min", "mins":
			unit = float64(time.Minute / time.Millisecond)
		case "h", "hr", "hrs":
			unit = float64(time.Hour / time.Millisecond)
		case "d", "day", "days":
			unit = float64(24 * time.Hour / time.Millisecond)
		}
		return int64(math.Floor(n * unit))
	}
	if d, err := time.ParseDuration(text); err == nil && d > 0 {
		return d.Milliseconds()
	}
	return 0
}

// FormatIntervalMs renders ms with the largest unit that divides it
// exactly, e.g. 1800000 -> "30m".
func FormatIntervalMs(ms int64) string {
	if ms <= 0 {
		return ""
	}
	units := []struct {
		size   int64
		suffix string
	}{
		{24 * 60 * 60 * 1000, "d"},
		{60 * 60 * 1000, "h"},
		{60 * 1000, "m"},
		{1000, "s"},
	}
	for _, u := range units {
		if ms%u.size == 0 {
			return strconv.FormatInt(ms/u.size, 10) + u.suffix
		}
	}
	return strconv.FormatInt(ms, 10) + "ms"
}

var (
	digitsRe    = regexp.MustCompile(`^\d+$`)
	localTimeRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[ T](\d{2}:\d{2})(?::(\d{2}))?$`)
)

// ParseAtMs parses a one-shot time: Unix seconds (up to 10 digits) or
// milliseconds, "YYYY-MM-DD HH:MM[:SS]" in loc ("/" separators allowed),
// or RFC 3339. It returns 0 when text is not a time.
func ParseAtMs(text string, loc *time.Location) int64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	if loc == nil {
		loc = time.Local
	}
	if digitsRe.MatchString(text) {
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil || n <= 0 {
			return 0
		}
		if len(text) <= 10 {
			return n * 1000
		}
		return n
	}

	normalized := strings.ReplaceAll(text, "/", "-")
	if m := localTimeRe.FindStringSubmatch(normalized); m != nil {
		seconds := m[3]
		if seconds == "" {
			seconds = "00"
		}
		t, err := time.ParseInLocation("2006-01-02T15:04:05", m[1]+"T"+m[2]+":"+seconds, loc)
		if err != nil {
			return 0
		}
		return t.UnixMilli()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, normalized); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// FormatAtMs renders a one-shot time as "YYYY-MM-DD HH:MM" in loc.
func FormatAtMs(ms int64, loc *time.Location) string {
	if ms <= 0 {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc).Format("2006-01-02 15:04")
}

// validateStart applies the start checks in order. Nothing is mutated.
func validateStart(op CronOp, nowMs int64) error {
	switch {
	case op.IntervalMs > 0 && op.OnceAtMs > 0:
		return invalid("cron start accepts either every or at/once, not both")
	case op.OnceAtMs > 0 && op.OnceAtMs <= nowMs:
		return invalid("one-time cron time must be in the future")
	case op.IntervalMs <= 0 && op.OnceAtMs <= 0:
		return invalid("cron start requires every or at/once")
	case op.IntervalMs > 0 && op.IntervalMs < MinInterval.Milliseconds():
		return invalid("invalid cron interval (min 1s)")
	case len(dedupe(op.Targets)) == 0:
		return invalid("cron start requires at least one target")
	case strings.TrimSpace(op.Prompt) == "":
		return invalid("cron start requires prompt")
	}
	return nil
}

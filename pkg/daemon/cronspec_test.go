package daemon

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"ufoo/pkg/bus"
)

func TestParseIntervalMs(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"500ms", 500},
		{"10s", 10000},
		{"30m", 1800000},
		{"2h", 7200000},
		{"1d", 86400000},
		{"1.5h", 5400000},
		{"1h30m", 5400000},
		{"45", 45000},
		{" 5 s ", 5000},
		{"", 0},
		{"soon", 0},
		{"-5s", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseIntervalMs(tt.in); got != tt.want {
				t.Errorf("ParseIntervalMs(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatIntervalMs(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{1800000, "30m"},
		{86400000, "1d"},
		{7200000, "2h"},
		{5400000, "90m"},
		{1500, "1500ms"},
		{3000, "3s"},
		{0, ""},
	}
	for _, tt := range tests {
		if got := FormatIntervalMs(tt.in); got != tt.want {
			t.Errorf("FormatIntervalMs(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseAtMs(t *testing.T) {
	loc := time.FixedZone("test", 2*60*60)
	local := time.Date(2030, 1, 2, 9, 30, 0, 0, loc).UnixMilli()

	tests := []struct {
		name string
		in   string
		want int64
	}{
		{"unix seconds", "1900000000", 1900000000000},
		{"unix millis", "1900000000123", 1900000000123},
		{"local minutes", "2030-01-02 09:30", local},
		{"local seconds", "2030-01-02 09:30:15", local + 15000},
		{"slashes", "2030/01/02 09:30", local},
		{"T separator", "2030-01-02T09:30", local},
		{"rfc3339", "2030-01-02T07:30:00Z", local},
		{"garbage", "tomorrow", 0},
		{"zero", "0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseAtMs(tt.in, loc); got != tt.want {
				t.Errorf("ParseAtMs(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeCronOp(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want CronOp
	}{
		{
			name: "start with aliases",
			args: map[string]any{"every": "10m", "target": "codex, claude-code,codex", "msg": " check in "},
			want: CronOp{Operation: OpStart, IntervalMs: 600000, Targets: []string{"codex", "claude-code"}, Prompt: "check in"},
		},
		{
			name: "targets array wins",
			args: map[string]any{"targets": []any{"a", "b", "a"}, "to": "c", "interval_ms": float64(2000), "prompt": "p"},
			want: CronOp{Operation: OpStart, IntervalMs: 2000, Targets: []string{"a", "b"}, Prompt: "p"},
		},
		{
			name: "merged agent and to",
			args: map[string]any{"agent": "a", "to": "b,c", "intervalMs": "3000", "message": "m"},
			want: CronOp{Operation: OpStart, IntervalMs: 3000, Targets: []string{"a", "b", "c"}, Prompt: "m"},
		},
		{
			name: "once at ms",
			args: map[string]any{"once_at_ms": float64(1900000000000), "to": "x", "prompt": "p"},
			want: CronOp{Operation: OpStart, OnceAtMs: 1900000000000, Targets: []string{"x"}, Prompt: "p"},
		},
		{
			name: "list flag",
			args: map[string]any{"list": true},
			want: CronOp{Operation: OpList},
		},
		{
			name: "ls alias",
			args: map[string]any{"op": "LS"},
			want: CronOp{Operation: OpList},
		},
		{
			name: "id implies stop",
			args: map[string]any{"task_id": "c3"},
			want: CronOp{Operation: OpStop, ID: "c3"},
		},
		{
			name: "rm alias",
			args: map[string]any{"command": "rm", "id": "all"},
			want: CronOp{Operation: OpStop, ID: "all"},
		},
		{
			name: "unknown operation kept",
			args: map[string]any{"operation": "pause"},
			want: CronOp{Operation: "pause"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeCronOp(tt.args)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeCronOp = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalizeCronOp_DateAndTime(t *testing.T) {
	op := NormalizeCronOp(map[string]any{"date": "2030-01-02", "time": "09:30", "to": "x", "prompt": "p"})
	want := time.Date(2030, 1, 2, 9, 30, 0, 0, time.Local).UnixMilli()
	if op.OnceAtMs != want {
		t.Errorf("OnceAtMs = %d, want %d", op.OnceAtMs, want)
	}
}

func TestValidateStart(t *testing.T) {
	now := int64(1_000_000)
	base := CronOp{Operation: OpStart, IntervalMs: 5000, Targets: []string{"codex"}, Prompt: "p"}

	tests := []struct {
		name   string
		mutate func(*CronOp)
		want   string
	}{
		{"both modes", func(o *CronOp) { o.OnceAtMs = now + 10 }, "cron start accepts either every or at/once, not both"},
		{"past one-shot", func(o *CronOp) { o.IntervalMs = 0; o.OnceAtMs = now }, "one-time cron time must be in the future"},
		{"no schedule", func(o *CronOp) { o.IntervalMs = 0 }, "cron start requires every or at/once"},
		{"too fast", func(o *CronOp) { o.IntervalMs = 999 }, "invalid cron interval (min 1s)"},
		{"no targets", func(o *CronOp) { o.Targets = []string{" ", ""} }, "cron start requires at least one target"},
		{"no prompt", func(o *CronOp) { o.Prompt = "  " }, "cron start requires prompt"},
		{"both and no prompt reports mode first", func(o *CronOp) { o.OnceAtMs = now + 10; o.Prompt = "" }, "cron start accepts either every or at/once, not both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := base
			op.Targets = append([]string(nil), base.Targets...)
			tt.mutate(&op)
			err := validateStart(op, now)
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.want {
				t.Errorf("error = %q, want %q", err.Error(), tt.want)
			}
			if !errors.Is(err, bus.ErrValidation) {
				t.Errorf("error %v does not match ErrValidation", err)
			}
		})
	}

	if err := validateStart(base, now); err != nil {
		t.Errorf("valid op rejected: %v", err)
	}
}

package main

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"

	"ufoo/pkg/bus"
)

func TestInitCmd(t *testing.T) {
	busDir := setupBus(t)

	if _, err := bus.New(busDir).Registry(); err != nil {
		t.Fatalf("bus not usable after init: %v", err)
	}

	out := mustRun(t, "init")
	if !strings.Contains(out, "already initialized") {
		t.Errorf("second init should be a no-op, got %q", out)
	}
}

func TestBusCmd_NotInitialized(t *testing.T) {
	setupEnv(t, t.TempDir()+"/missing")

	_, err := runCmd(t, "bus", "send", "codex", "hello")
	if err == nil {
		t.Fatal("expected error on uninitialized bus")
	}
	if !bus.IsNotInitialized(err) {
		t.Errorf("error should wrap ErrNotInitialized, got %v", err)
	}
	if !strings.Contains(err.Error(), "run: ufoo init") {
		t.Errorf("error should tell the user to run init, got %q", err)
	}
}

func TestBusCmd_SendCheckAck(t *testing.T) {
	setupBus(t)

	out := mustRun(t, "bus", "join", "--session", "s1", "--nickname", "alice", "--pid", "0")
	if !strings.Contains(out, "Joined event bus: claude-code:s1 (alice)") {
		t.Errorf("join output = %q", out)
	}

	out = mustRun(t, "bus", "send", "--from", "tester", "alice", "review", "the", "diff")
	if !strings.Contains(out, "Message sent: seq=1 -> claude-code:s1") {
		t.Errorf("send output = %q", out)
	}

	out = mustRun(t, "bus", "check", "claude-code:s1")
	for _, want := range []string{
		"You have 1 pending event(s):",
		"@you from tester",
		"Type: message/targeted/message",
		`"message":"review the diff"`,
		"After handling, run: ufoo bus ack claude-code:s1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("check output missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, "bus", "ack", "claude-code:s1")
	if !strings.Contains(out, "Acknowledged and cleared 1 message(s)") {
		t.Errorf("ack output = %q", out)
	}
	out = mustRun(t, "bus", "ack", "claude-code:s1")
	if !strings.Contains(out, "No pending messages to acknowledge") {
		t.Errorf("second ack output = %q", out)
	}
	out = mustRun(t, "bus", "check", "claude-code:s1")
	if !strings.Contains(out, "No pending messages") {
		t.Errorf("check after ack = %q", out)
	}
}

func TestBusCmd_CheckJSONAutoAck(t *testing.T) {
	setupBus(t)
	mustRun(t, "bus", "join", "--session", "s1", "--pid", "0")
	mustRun(t, "bus", "send", "--from", "tester", "claude-code:s1", "hi")

	out := mustRun(t, "bus", "check", "--json", "--auto-ack", "claude-code:s1")
	var events []bus.Event
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("decode check --json: %v\n%s", err, out)
	}
	if len(events) != 1 || events[0].Message() != "hi" {
		t.Fatalf("events = %+v", events)
	}

	out = mustRun(t, "bus", "check", "--json", "claude-code:s1")
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("queue should be empty after --auto-ack, got %q", out)
	}
}

func TestBusCmd_SessionFromEnv(t *testing.T) {
	setupBus(t)
	t.Setenv(envClaudeSession, "env1")

	out := mustRun(t, "bus", "join", "--pid", "0")
	if !strings.Contains(out, "claude-code:env1") {
		t.Errorf("join should use the session from the environment, got %q", out)
	}

	out = mustRun(t, "bus", "whoami")
	if strings.TrimSpace(out) != "claude-code:env1" {
		t.Errorf("whoami = %q", out)
	}

	mustRun(t, "bus", "send", "claude-code:env1", "ping")
	out = mustRun(t, "bus", "check")
	if !strings.Contains(out, "@you from claude-code:env1") {
		t.Errorf("publisher should default to the session id, got %q", out)
	}
}

func TestBusCmd_WhoamiWithoutSession(t *testing.T) {
	setupBus(t)

	_, err := runCmd(t, "bus", "whoami")
	if !errors.Is(err, errNoSession) {
		t.Errorf("whoami without session: err = %v, want errNoSession", err)
	}

	t.Setenv(envCodexSession, "x9")
	_, err = runCmd(t, "bus", "whoami")
	if err == nil || !strings.Contains(err.Error(), "not joined as codex:x9") {
		t.Errorf("whoami before join: err = %v", err)
	}
}

func TestBusCmd_BroadcastIncludesPublisher(t *testing.T) {
	setupBus(t)
	mustRun(t, "bus", "join", "--session", "a", "--pid", "0")
	mustRun(t, "bus", "join", "--session", "b", "--agent-type", "codex", "--pid", "0")

	out := mustRun(t, "bus", "broadcast", "--from", "claude-code:a", "standup")
	if !strings.Contains(out, "-> claude-code:a, codex:b") {
		t.Errorf("broadcast output = %q", out)
	}
}

func TestBusCmd_SendNoTargets(t *testing.T) {
	setupBus(t)

	_, err := runCmd(t, "bus", "send", "nobody", "hello")
	if !errors.Is(err, bus.ErrNoTargets) {
		t.Errorf("err = %v, want ErrNoTargets", err)
	}
}

func TestBusCmd_LeaveRename(t *testing.T) {
	setupBus(t)
	mustRun(t, "bus", "join", "--session", "s1", "--pid", "0")

	out := mustRun(t, "bus", "rename", "claude-code:s1", "bob")
	if !strings.Contains(out, `Renamed claude-code:s1: "" -> "bob"`) {
		t.Errorf("rename output = %q", out)
	}

	out = mustRun(t, "bus", "leave", "claude-code:s1")
	if !strings.Contains(out, "Left event bus: claude-code:s1") {
		t.Errorf("leave output = %q", out)
	}

	_, err := runCmd(t, "bus", "leave", "claude-code:s1")
	if !errors.Is(err, bus.ErrNotFound) {
		t.Errorf("second leave: err = %v, want ErrNotFound", err)
	}
}

func TestBusCmd_Consume(t *testing.T) {
	setupBus(t)
	mustRun(t, "bus", "join", "--session", "s1", "--pid", "0")
	mustRun(t, "bus", "send", "--from", "x", "claude-code:s1", "one")
	mustRun(t, "bus", "send", "--from", "x", "claude-code:s1", "two")

	out := mustRun(t, "bus", "consume", "claude-code:s1")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("consume printed %d lines, want 3:\n%s", len(lines), out)
	}
	var first bus.Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first line is not an event: %v", err)
	}
	if first.Seq != 1 || first.Message() != "one" {
		t.Errorf("first event = %+v", first)
	}
	if !strings.Contains(lines[2], "Consumed 2 events, new offset: 2") {
		t.Errorf("summary = %q", lines[2])
	}

	out = mustRun(t, "bus", "consume", "claude-code:s1")
	if !strings.Contains(out, "Consumed 0 events, new offset: 2") {
		t.Errorf("second consume = %q", out)
	}

	out = mustRun(t, "bus", "consume", "--from-beginning", "claude-code:s1")
	if !strings.Contains(out, "Consumed 2 events, new offset: 2") {
		t.Errorf("consume --from-beginning = %q", out)
	}
}

func TestBusCmd_Status(t *testing.T) {
	setupBus(t)

	out := mustRun(t, "bus", "status")
	for _, want := range []string{"=== Event Bus Status ===", "(none)", "(no events yet)"} {
		if !strings.Contains(out, want) {
			t.Errorf("empty status missing %q:\n%s", want, out)
		}
	}

	mustRun(t, "bus", "join", "--session", "s1", "--nickname", "alice", "--launch-mode", "tmux", "--pid", "0")
	mustRun(t, "bus", "send", "--from", "x", "alice", "hello")

	out = mustRun(t, "bus", "status")
	for _, want := range []string{
		"claude-code:s1 (alice) via tmux [1 unread]",
		"Total: 1 events",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, "bus", "status", "--json")
	var st bus.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode status --json: %v", err)
	}
	if st.Unread.Total != 1 || st.TotalEvents != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestBusCmd_Resolve(t *testing.T) {
	setupBus(t)
	mustRun(t, "bus", "join", "--session", "me", "--pid", "0")

	_, err := runCmd(t, "bus", "resolve", "claude-code:me", "codex")
	if !errors.Is(err, bus.ErrNoTargets) {
		t.Errorf("resolve with no codex: err = %v", err)
	}

	mustRun(t, "bus", "join", "--session", "c1", "--agent-type", "codex", "--pid", "0")
	out := mustRun(t, "bus", "resolve", "claude-code:me", "codex")
	if strings.TrimSpace(out) != "codex:c1" {
		t.Errorf("resolve single = %q", out)
	}

	mustRun(t, "bus", "join", "--session", "c2", "--agent-type", "codex", "--nickname", "rev", "--pid", "0")
	out, err = runCmd(t, "bus", "resolve", "claude-code:me", "codex")
	if err == nil {
		t.Fatal("ambiguous resolve should fail")
	}
	if !strings.Contains(out, "Multiple codex agents found:") || !strings.Contains(out, "codex:c2 (rev)") {
		t.Errorf("resolve candidates = %q", out)
	}
}

func TestBusCmd_History(t *testing.T) {
	setupBus(t)
	mustRun(t, "bus", "join", "--session", "s1", "--pid", "0")
	mustRun(t, "bus", "send", "--from", "alice", "claude-code:s1", "from alice")
	mustRun(t, "bus", "send", "--from", "bob", "claude-code:s1", "from bob")

	out := mustRun(t, "bus", "history", "--publisher", "alice")
	if !strings.Contains(out, "#1") || !strings.Contains(out, "alice -> claude-code:s1: from alice") {
		t.Errorf("history --publisher = %q", out)
	}
	if strings.Contains(out, "from bob") {
		t.Errorf("history should filter by publisher, got %q", out)
	}

	out = mustRun(t, "bus", "history")
	if strings.Index(out, "#2") > strings.Index(out, "#1") {
		t.Errorf("history should list newest first, got %q", out)
	}

	out = mustRun(t, "bus", "history", "--publisher", "nobody")
	if !strings.Contains(out, "No matching events") {
		t.Errorf("empty history = %q", out)
	}
}

func TestBusCmd_JoinWithoutPIDStaysOnline(t *testing.T) {
	setupBus(t)

	mustRun(t, "bus", "join", "--session", "s1", "--nickname", "alice")

	// A later command reloads the registry and reconciles presence.
	out := mustRun(t, "bus", "status")
	if !strings.Contains(out, "claude-code:s1 (alice)") {
		t.Errorf("joined agent not online:\n%s", out)
	}
	out = mustRun(t, "bus", "send", "--from", "x", "alice", "hi")
	if !strings.Contains(out, "Message sent: seq=1 -> claude-code:s1") {
		t.Errorf("send output = %q", out)
	}
}

func TestBusCmd_JoinUsesParentPIDFromEnv(t *testing.T) {
	busDir := setupBus(t)
	t.Setenv(envParentPID, strconv.Itoa(os.Getpid()))

	mustRun(t, "bus", "join", "--session", "s1")

	reg, err := bus.New(busDir).Registry()
	if err != nil {
		t.Fatal(err)
	}
	sub, ok := reg.Get("claude-code:s1")
	if !ok {
		t.Fatal("subscriber missing")
	}
	if sub.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", sub.PID, os.Getpid())
	}

	// An explicit flag still wins.
	mustRun(t, "bus", "join", "--session", "s2", "--pid", "0")
	reg, err = bus.New(busDir).Registry()
	if err != nil {
		t.Fatal(err)
	}
	if sub, _ := reg.Get("claude-code:s2"); sub == nil || sub.PID != 0 {
		t.Errorf("--pid 0 not honored: %+v", sub)
	}
}

func TestBusCmd_RejectsIDsOutsideBusTree(t *testing.T) {
	busDir := setupBus(t)
	mustRun(t, "bus", "join", "--session", "s1", "--pid", "0")

	for _, args := range [][]string{
		{"bus", "consume", "../bus.json"},
		{"bus", "check", "../bus.json"},
		{"bus", "ack", "../../x"},
		{"bus", "alert", "--stop", "../x"},
	} {
		if _, err := runCmd(t, args...); !errors.Is(err, bus.ErrValidation) {
			t.Errorf("%v: err = %v, want ErrValidation", args, err)
		}
	}

	reg, err := bus.New(busDir).Registry()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.Get("claude-code:s1"); !ok {
		t.Error("registry lost its subscriber")
	}
}

func TestBusCmd_LeaveClearsUnread(t *testing.T) {
	setupBus(t)
	mustRun(t, "bus", "join", "--session", "s1", "--pid", "0")
	mustRun(t, "bus", "send", "--from", "x", "claude-code:s1", "one")
	mustRun(t, "bus", "leave", "claude-code:s1")

	out := mustRun(t, "bus", "status", "--json")
	var st bus.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatal(err)
	}
	if st.Unread.Total != 0 {
		t.Errorf("unread after leave = %+v", st.Unread)
	}
}

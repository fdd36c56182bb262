package main

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"ufoo/pkg/bus"
	"ufoo/pkg/config"
)

// Environment variables set by agent launchers.
const (
	envClaudeSession = "CLAUDE_SESSION_ID"
	envCodexSession  = "CODEX_SESSION_ID"
	envBusPublisher  = "AI_BUS_PUBLISHER"
	envParentPID     = "UFOO_PARENT_PID"
)

const unknownPublisher = "unknown"

var errNoSession = errors.New("no session ID found, run: ufoo bus join")

// identity is the agent session the current process belongs to.
type identity struct {
	SessionID string
	AgentType string
}

func identityFromEnv() identity {
	session := strings.TrimSpace(os.Getenv(envClaudeSession))
	if session == "" {
		session = strings.TrimSpace(os.Getenv(envCodexSession))
	}
	agentType := bus.AgentClaude
	if os.Getenv(envCodexSession) != "" {
		agentType = bus.AgentCodex
	}
	return identity{SessionID: session, AgentType: agentType}
}

// SubscriberID returns "<type>:<session>", or "" without a session.
func (id identity) SubscriberID() string {
	if id.SessionID == "" {
		return ""
	}
	return id.AgentType + ":" + id.SessionID
}

// subscriberArg picks the subscriber an operation acts on: an explicit
// argument, otherwise the session from the environment.
func subscriberArg(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if id := identityFromEnv().SubscriberID(); id != "" {
		return id, nil
	}
	return "", errNoSession
}

// publisherFor resolves the publisher name for outgoing messages.
func publisherFor(cfg config.Config, flag string) string {
	for _, candidate := range []string{
		flag,
		cfg.Publisher,
		os.Getenv(envBusPublisher),
		identityFromEnv().SubscriberID(),
	} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return unknownPublisher
}

// agentPID picks the pid recorded for a joining subscriber. A non-negative
// flag wins, then the pid a launcher exported in UFOO_PARENT_PID, then the
// nearest ancestor whose command matches the agent pattern. Zero means no
// owning agent was found and liveness checks are skipped.
func agentPID(flag int, agentPattern string) int {
	if flag >= 0 {
		return flag
	}
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(envParentPID))); err == nil && v > 0 {
		return v
	}
	matcher := bus.NewProcessMatcher(bus.OSInspector{}, agentPattern)
	return bus.AgentAncestor(os.Getppid(), matcher, bus.OSInspector{})
}

package bus

import (
	"fmt"
	"strings"
)

// SubscriberToSafeName maps a subscriber id to a file-name-safe form by
// replacing every ':' with '_' (claude-code:abc123 -> claude-code_abc123).
func SubscriberToSafeName(id string) string {
	return strings.ReplaceAll(id, ":", "_")
}

// SafeNameToSubscriber reverses SubscriberToSafeName for ids of the form
// type:session. Only the first '_' is turned back into ':'; names without
// an underscore, or with nothing on either side of it, are returned as is.
func SafeNameToSubscriber(safe string) string {
	i := strings.IndexByte(safe, '_')
	if i <= 0 || i == len(safe)-1 {
		return safe
	}
	return safe[:i] + ":" + safe[i+1:]
}

// SplitSubscriberID returns the agent type and session parts of id.
func SplitSubscriberID(id string) (agentType, session string) {
	agentType, session, _ = strings.Cut(id, ":")
	return agentType, session
}

// ValidateSubscriberID rejects ids that cannot name a file inside the bus
// tree. Queue directories and offset files are derived from the id, so a
// separator or a parent reference would let it escape the bus directory.
func ValidateSubscriberID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("empty subscriber id: %w", ErrValidation)
	case strings.ContainsAny(id, "/\\\x00"), strings.Contains(id, ".."):
		return fmt.Errorf("subscriber id %q: %w", id, ErrValidation)
	}
	return nil
}

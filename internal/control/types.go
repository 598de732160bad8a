package control

import (
	"fmt"
	"strconv"
	"strings"
)

// ReplyError is a negative admin reply such as "ERR EINVAL value must be a number".
type ReplyError struct {
	Kind    string
	Code    string
	Message string
}

func (e *ReplyError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Code, e.Message)
}

// LockInfo is one line of the LOCKS listing.
type LockInfo struct {
	Resource string
	Holder   string
	Waiters  int
}

// LockSummary is the LOCKS reply.
type LockSummary struct {
	Held     int
	Capacity int
	Locks    []LockInfo
}

// parseReply splits a status line into its payload, or a *ReplyError.
func parseReply(line string) (string, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch kind {
	case "OK":
		return rest, nil
	case "ERR", "FAIL":
		code, msg, _ := strings.Cut(rest, " ")
		return "", &ReplyError{Kind: kind, Code: code, Message: msg}
	default:
		return "", fmt.Errorf("unexpected reply %q", line)
	}
}

func parseLockSummary(status string, lines []string) (LockSummary, error) {
	var out LockSummary
	for _, field := range strings.Fields(status) {
		key, value, _ := strings.Cut(field, "=")
		n, err := strconv.Atoi(value)
		if err != nil {
			return LockSummary{}, fmt.Errorf("parse locks header %q: %w", status, err)
		}
		switch key {
		case "held":
			out.Held = n
		case "capacity":
			out.Capacity = n
		}
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		n := len(fields)
		if n < 3 {
			return LockSummary{}, fmt.Errorf("parse lock line %q", line)
		}
		waiters, err := strconv.Atoi(fields[n-1])
		if err != nil {
			return LockSummary{}, fmt.Errorf("parse lock line %q: %w", line, err)
		}
		out.Locks = append(out.Locks, LockInfo{
			Resource: strings.Join(fields[:n-2], " "),
			Holder:   fields[n-2],
			Waiters:  waiters,
		})
	}
	return out, nil
}

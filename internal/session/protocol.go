package session

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Reply codes shared by both channels.
const (
	codeBadFD    = "EBADF"
	codeInvalid  = "EINVAL"
	codeNotFound = "ENOENT"
	codeBusy     = "EBUSY"
	codeNoLock   = "ENOLCK"
	codeDeadlock = "EDEADLK"
	codeIO       = "EIO"
	codeBadCmd   = "EBADCMD"
)

// BusyReply is written to connections rejected by a saturated pool.
const BusyReply = "FAIL EAGAIN server busy"

func ok(format string, args ...any) string {
	if format == "" {
		return "OK"
	}
	return "OK " + fmt.Sprintf(format, args...)
}

func errReply(code, msg string) string {
	return "ERR " + code + " " + msg
}

func failReply(code, msg string) string {
	return "FAIL " + code + " " + msg
}

func unknownCommand() string {
	return failReply(codeBadCmd, "unknown command")
}

// splitCommand returns the upper-cased keyword and the untouched remainder.
func splitCommand(line string) (string, string) {
	line = strings.TrimLeft(line, " \t")
	keyword, rest, _ := strings.Cut(line, " ")
	return strings.ToUpper(strings.TrimSpace(keyword)), strings.TrimLeft(rest, " \t")
}

// replyStatus keeps the outcome part of a reply, e.g. "OK" or "FAIL EBUSY".
func replyStatus(reply string) string {
	fields := strings.Fields(reply)
	switch {
	case len(fields) == 0:
		return ""
	case fields[0] == "OK" || len(fields) == 1:
		return fields[0]
	default:
		return fields[0] + " " + fields[1]
	}
}

// resolvePath maps a client path to a resource identifier relative to root
// and the absolute file it names. Paths may not climb out of root.
func resolvePath(root, name string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("empty path")
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return "", "", fmt.Errorf("path %q leaves the served tree", name)
		}
	}
	rel := strings.TrimPrefix(filepath.Clean("/"+name), "/")
	if rel == "" {
		return "", "", fmt.Errorf("path %q names the root", name)
	}
	return filepath.ToSlash(rel), filepath.Join(root, rel), nil
}

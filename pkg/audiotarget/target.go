package audiotarget

import (
	"fmt"
	"strconv"
	"strings"
)

// TargetIdentifier is the parsed form of a "pid", "name" or "pid:name" target string
type TargetIdentifier struct {
	PID    int64
	HasPID bool
	Name   string
}

// ResolveTargetIdentifier parses identifier. Stray leading and trailing colons are ignored.
// Without an interior colon a fully numeric token is a pid and anything else a name;
// with one, the text before it must be an integer pid and the text after it is the name.
func ResolveTargetIdentifier(identifier string) (TargetIdentifier, error) {
	trimmed := strings.Trim(strings.TrimSpace(identifier), ":")

	sep := strings.IndexByte(trimmed, ':')
	if sep < 0 {
		if !isDigits(trimmed) {
			return TargetIdentifier{Name: trimmed}, nil
		}

		pid, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return TargetIdentifier{}, fmt.Errorf("%w: pid %q out of range", ErrInvalidIdentifier, trimmed)
		}

		return TargetIdentifier{PID: pid, HasPID: true}, nil
	}

	pidText := strings.TrimSpace(trimmed[:sep])

	pid, err := strconv.ParseInt(pidText, 10, 64)
	if err != nil {
		return TargetIdentifier{}, fmt.Errorf("%w: %q is not a pid", ErrInvalidIdentifier, pidText)
	}

	return TargetIdentifier{PID: pid, HasPID: true, Name: trimmed[sep+1:]}, nil
}

func (t TargetIdentifier) String() string {
	switch {
	case t.HasPID && t.Name != "":
		return formatProcessIdentifier(t.PID, t.Name)
	case t.HasPID:
		return strconv.FormatInt(t.PID, 10)
	default:
		return t.Name
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

package ffmpeg

import "strings"

// ParseLogLevel splits a line produced with -loglevel level+... into its
// level and message. Lines look like "[error] msg" or
// "[h264 @ 0x55d0] [warning] msg"; the component prefix is kept in the
// message. Unrecognised lines are reported at info.
func ParseLogLevel(line string) (level, msg string) {
	rest, component := line, ""
	if prefix, after, ok := cutBracket(rest); ok && !isLogLevel(prefix) {
		component, rest = "["+prefix+"] ", after
	}
	if prefix, after, ok := cutBracket(rest); ok && isLogLevel(prefix) {
		return prefix, component + after
	}
	return "info", line
}

// cutBracket splits "[x] rest" into x and rest.
func cutBracket(s string) (inner, rest string, ok bool) {
	if len(s) < 3 || s[0] != '[' {
		return "", s, false
	}
	end := strings.Index(s, "] ")
	if end == -1 {
		return "", s, false
	}
	return s[1:end], s[end+2:], true
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}

package watchdog

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

const maxLocationDepth = 32

// Location is the call stack that submitted a watch. It is captured for
// diagnostics only.
type Location struct {
	pcs []uintptr
}

// CaptureLocation records the stack of its caller, skipping skip
// additional frames.
func CaptureLocation(skip int) Location {
	pcs := make([]uintptr, maxLocationDepth)
	// +2 skips runtime.Callers and CaptureLocation.
	n := runtime.Callers(skip+2, pcs)
	return Location{pcs: pcs[:n]}
}

// Frames resolves the captured program counters.
func (l Location) Frames() []runtime.Frame {
	if len(l.pcs) == 0 {
		return nil
	}
	var out []runtime.Frame
	frames := runtime.CallersFrames(l.pcs)
	for {
		f, more := frames.Next()
		out = append(out, f)
		if !more {
			break
		}
	}
	return out
}

// Top returns the innermost captured frame as "function file:line".
func (l Location) Top() string {
	frames := l.Frames()
	if len(frames) == 0 {
		return "unknown"
	}
	return formatFrame(frames[0])
}

// String renders one frame per line, innermost first.
func (l Location) String() string {
	frames := l.Frames()
	if len(frames) == 0 {
		return "unknown"
	}
	var sb strings.Builder
	for i, f := range frames {
		if i > 0 {
			sb.WriteString("\n\tat ")
		}
		sb.WriteString(formatFrame(f))
	}
	return sb.String()
}

// LogValue implements slog.LogValuer.
func (l Location) LogValue() slog.Value {
	return slog.StringValue(l.String())
}

func formatFrame(f runtime.Frame) string {
	return fmt.Sprintf("%s %s:%d", f.Function, f.File, f.Line)
}

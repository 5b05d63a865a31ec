package log

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

type formatter struct {
	pattern string
	time    string
}

// Format renders entry through the pattern. Supported placeholders:
// %time, %level, %field, %msg, %caller, %func.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	pairs := []string{
		"%time", entry.Time.Format(f.time),
		"%level", strings.ToUpper(entry.Level.String()),
		"%field", buildFields(entry),
		"%msg", entry.Message,
	}
	if strings.Contains(f.pattern, "%caller") || strings.Contains(f.pattern, "%func") {
		frame := callerFrame()
		pairs = append(pairs,
			"%caller", formatCaller(frame),
			"%func", formatFunc(frame),
		)
	}
	return []byte(strings.NewReplacer(pairs...).Replace(f.pattern)), nil
}

func buildFields(entry *logrus.Entry) string {
	if len(entry.Data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		switch v := entry.Data[k].(type) {
		case string:
			b.WriteString(v)
		case error:
			b.WriteString(v.Error())
		default:
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}

// callerFrame finds the first stack frame outside logrus and this package.
func callerFrame() runtime.Frame {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isLoggingFrame(frame) {
			return frame
		}
		if !more {
			return runtime.Frame{}
		}
	}
}

func isLoggingFrame(frame runtime.Frame) bool {
	if strings.Contains(frame.Function, "sirupsen/logrus") {
		return true
	}
	return strings.Contains(frame.Function, "rttprobe/internal/log.") &&
		!strings.HasSuffix(frame.File, "_test.go")
}

func formatCaller(frame runtime.Frame) string {
	if frame.File == "" {
		return "unknown"
	}
	file := frame.File
	if i := strings.LastIndex(file, "/"); i >= 0 {
		file = file[i+1:]
	}
	pkg := frame.Function
	if i := strings.LastIndex(pkg, "/"); i >= 0 {
		pkg = pkg[i+1:]
	}
	if i := strings.Index(pkg, "."); i >= 0 {
		pkg = pkg[:i]
	}
	return fmt.Sprintf("%s/%s:%d", pkg, file, frame.Line)
}

func formatFunc(frame runtime.Frame) string {
	if frame.Function == "" {
		return "unknown"
	}
	name := frame.Function
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

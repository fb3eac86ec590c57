package monitoring

import (
	"io"
	"log"
	"os"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// ReportSink receives one line per calibrated element. It is kept apart from
// Logf so that diagnostics never interleave with the calibration report.
type ReportSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewReportSink wraps w. A nil writer reports to os.Stdout.
func NewReportSink(w io.Writer) *ReportSink {
	if w == nil {
		w = os.Stdout
	}
	return &ReportSink{w: w}
}

// Println writes line followed by a newline.
func (s *ReportSink) Println(line string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.w, line+"\n")
}

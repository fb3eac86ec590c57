package calib

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/calib/internal/timeutil"
)

// Reviewer lets an operator inspect and move the markers of an element
// before its constants are calculated. Review blocks until the markers are
// accepted or replaced.
type Reviewer interface {
	Review(ctx context.Context, elem int, markers []Marker) ([]Marker, error)
}

// AutoReviewer accepts every element, optionally after Delay.
type AutoReviewer struct {
	Delay time.Duration
	// Clock defaults to the wall clock.
	Clock timeutil.Clock
}

// Review implements Reviewer.
func (a AutoReviewer) Review(ctx context.Context, elem int, markers []Marker) ([]Marker, error) {
	if a.Delay <= 0 {
		return markers, ctx.Err()
	}
	timer := timeutil.OrReal(a.Clock).NewTimer(a.Delay)
	defer timer.Stop()
	select {
	case <-timer.C():
		return markers, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TerminalReviewer prints the markers of each element to Out and reads the
// operator's answer from In. An empty line accepts, "name=value" moves the
// named marker and a bare number moves the first one. With a Timeout the
// element is accepted when no answer arrives in time; end of input accepts
// every remaining element. A line that arrives after its element was
// accepted is dropped.
type TerminalReviewer struct {
	In      io.Reader
	Out     io.Writer
	Timeout time.Duration
	// Clock defaults to the wall clock.
	Clock timeutil.Clock

	once    sync.Once
	want    chan struct{}
	lines   chan reviewLine
	active  atomic.Int64
	seq     int64
	pending bool
	eof     bool
}

// reviewLine is one line of input tagged with the review that was active
// when it was read. Zero means no review was active.
type reviewLine struct {
	seq  int64
	text string
}

// NewTerminalReviewer creates a reviewer reading from in and prompting on out.
func NewTerminalReviewer(in io.Reader, out io.Writer, timeout time.Duration) *TerminalReviewer {
	return &TerminalReviewer{In: in, Out: out, Timeout: timeout}
}

// start launches the reader. It reads one line per request on want so that
// nothing is read ahead of the element being reviewed.
func (t *TerminalReviewer) start() {
	t.once.Do(func() {
		t.want = make(chan struct{}, 1)
		t.lines = make(chan reviewLine, 1)
		go func() {
			defer close(t.lines)
			sc := bufio.NewScanner(t.In)
			for range t.want {
				if !sc.Scan() {
					return
				}
				t.lines <- reviewLine{seq: t.active.Load(), text: sc.Text()}
			}
		}()
	})
}

// request asks the reader for the next line unless one is outstanding.
func (t *TerminalReviewer) request() {
	if t.pending || t.eof {
		return
	}
	t.pending = true
	t.want <- struct{}{}
}

// Review implements Reviewer.
func (t *TerminalReviewer) Review(ctx context.Context, elem int, markers []Marker) ([]Marker, error) {
	t.start()
	out := append([]Marker(nil), markers...)
	if t.eof {
		return out, nil
	}

	t.seq++
	seq := t.seq
	t.active.Store(seq)
	defer t.active.Store(0)

	var timeout <-chan time.Time
	if t.Timeout > 0 {
		timer := timeutil.OrReal(t.Clock).NewTimer(t.Timeout)
		defer timer.Stop()
		timeout = timer.C()
	}

	t.prompt(elem, out)
	t.request()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return out, nil
		case line, ok := <-t.lines:
			t.pending = false
			if !ok {
				t.eof = true
				return out, nil
			}
			if line.seq != seq {
				t.request()
				continue
			}
			text := strings.TrimSpace(line.text)
			if text == "" {
				return out, nil
			}
			if err := applyOverride(out, text); err != nil && t.Out != nil {
				fmt.Fprintf(t.Out, "  %v\n", err)
			}
			t.prompt(elem, out)
			t.request()
		}
	}
}

func (t *TerminalReviewer) prompt(elem int, markers []Marker) {
	if t.Out == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Element %03d:", elem)
	for _, m := range markers {
		fmt.Fprintf(&b, " %s=%g", m.Name, m.Value)
	}
	b.WriteString("  [enter accepts, name=value or value moves] > ")
	io.WriteString(t.Out, b.String())
}

// applyOverride moves one marker according to line.
func applyOverride(markers []Marker, line string) error {
	if len(markers) == 0 {
		return fmt.Errorf("no markers to move")
	}
	name, value, named := strings.Cut(line, "=")
	if !named {
		value = name
		name = markers[0].Name
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", strings.TrimSpace(value))
	}
	name = strings.TrimSpace(name)
	for i := range markers {
		if markers[i].Name == name {
			markers[i].Value = v
			return nil
		}
	}
	return fmt.Errorf("unknown marker %q", name)
}

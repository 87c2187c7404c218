package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"rvkernel/kernel/gate"
)

// Verdict describes the outcome of a boot.
type Verdict uint8

const (
	// VerdictPending means no conclusive line has been seen yet.
	VerdictPending Verdict = iota
	VerdictShutdown
	VerdictPanic
	VerdictSelfTestFailed
	VerdictTimeout
	VerdictDisconnected
)

var verdictNames = [...]string{
	"pending",
	"clean shutdown",
	"kernel panic",
	"boot self test failed",
	"timed out",
	"console disconnected",
}

func (v Verdict) String() string {
	if int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return "unknown"
}

var failureMarkers = []struct {
	marker  string
	verdict Verdict
}{
	{"self test failed", VerdictSelfTestFailed},
	{"unrecoverable error", VerdictPanic},
	{"*** kernel panic", VerdictPanic},
}

// Result is the verdict of a boot together with the console line that
// decided it.
type Result struct {
	Verdict Verdict
	Line    string
	Lines   int
}

// Passed returns true if the kernel shut down cleanly.
func (r Result) Passed() bool {
	return r.Verdict == VerdictShutdown
}

func (r Result) String() string {
	if r.Line == "" {
		return fmt.Sprintf("%s after %d lines", r.Verdict, r.Lines)
	}
	return fmt.Sprintf("%s after %d lines: %q", r.Verdict, r.Lines, r.Line)
}

// Monitor classifies console output line by line.
type Monitor struct {
	echo  io.Writer
	lines int
}

// NewMonitor returns a Monitor that copies every line to echo unless echo is
// nil.
func NewMonitor(echo io.Writer) *Monitor {
	return &Monitor{echo: echo}
}

// Feed classifies a single line of console output. A failure marker wins
// over the shutdown marker since a panic also ends with a shutdown.
func (m *Monitor) Feed(line string) Verdict {
	line = strings.TrimRight(line, "\r")
	m.lines++

	if m.echo != nil {
		fmt.Fprintln(m.echo, line)
	}

	for _, f := range failureMarkers {
		if strings.Contains(line, f.marker) {
			return f.verdict
		}
	}

	if strings.Contains(line, gate.ShutdownMarker) {
		return VerdictShutdown
	}
	return VerdictPending
}

// Watch feeds r to the monitor until a line decides the boot, r is
// exhausted or ctx expires.
func (m *Monitor) Watch(ctx context.Context, r io.Reader) Result {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return Result{Verdict: VerdictTimeout, Lines: m.lines}
		case line, ok := <-lines:
			if !ok {
				return Result{Verdict: VerdictDisconnected, Lines: m.lines}
			}
			if v := m.Feed(line); v != VerdictPending {
				return Result{Verdict: v, Line: strings.TrimRight(line, "\r"), Lines: m.lines}
			}
		}
	}
}

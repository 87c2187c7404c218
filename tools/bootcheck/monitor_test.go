package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"rvkernel/kernel/gate"
)

func TestMonitorFeed(t *testing.T) {
	specs := []struct {
		line       string
		expVerdict Verdict
	}{
		{"rvkernel: booting", VerdictPending},
		{"[kmain] heap self test passed", VerdictPending},
		{"[pmm] managing 0x80400000 - 0x88000000 (31744 pages, 126976Kb)\r", VerdictPending},
		{gate.ShutdownMarker + "\r", VerdictShutdown},
		{"[kmain] unrecoverable error: heap self test failed", VerdictSelfTestFailed},
		{"[gate] unrecoverable error: unhandled trap", VerdictPanic},
		{"*** kernel panic: system halted ***", VerdictPanic},
	}

	for specIndex, spec := range specs {
		m := NewMonitor(nil)
		if got := m.Feed(spec.line); got != spec.expVerdict {
			t.Errorf("[spec %d] expected verdict %q; got %q", specIndex, spec.expVerdict, got)
		}
	}
}

func TestMonitorWatch(t *testing.T) {
	specs := []struct {
		output     string
		expVerdict Verdict
		expLines   int
	}{
		{
			"rvkernel: booting\r\n[kmain] demo thread 0: round 0\r\n" + gate.ShutdownMarker + "\r\nignored\r\n",
			VerdictShutdown,
			3,
		},
		{
			"rvkernel: booting\n\n-----------------------------------\n[vmm] unrecoverable error: unrecoverable fault\n*** kernel panic: system halted ***\n",
			VerdictPanic,
			4,
		},
		{
			"rvkernel: booting\n",
			VerdictDisconnected,
			1,
		},
	}

	for specIndex, spec := range specs {
		res := NewMonitor(nil).Watch(context.Background(), strings.NewReader(spec.output))
		if res.Verdict != spec.expVerdict {
			t.Errorf("[spec %d] expected verdict %q; got %q", specIndex, spec.expVerdict, res.Verdict)
		}
		if res.Lines != spec.expLines {
			t.Errorf("[spec %d] expected %d lines; got %d", specIndex, spec.expLines, res.Lines)
		}
		if res.Passed() != (spec.expVerdict == VerdictShutdown) {
			t.Errorf("[spec %d] unexpected Passed() result", specIndex)
		}
	}
}

func TestMonitorWatchTimeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	go io.WriteString(w, "rvkernel: booting\n")

	res := NewMonitor(nil).Watch(ctx, r)
	if res.Verdict != VerdictTimeout {
		t.Fatalf("expected verdict %q; got %q", VerdictTimeout, res.Verdict)
	}
	if res.Passed() {
		t.Fatal("expected a timeout to fail the boot")
	}
}

func TestMonitorEcho(t *testing.T) {
	var buf bytes.Buffer
	res := NewMonitor(&buf).Watch(context.Background(), strings.NewReader("one\r\ntwo\r\n"+gate.ShutdownMarker+"\r\n"))

	if exp := "one\ntwo\n" + gate.ShutdownMarker + "\n"; buf.String() != exp {
		t.Fatalf("expected echoed output %q; got %q", exp, buf.String())
	}

	if exp := `clean shutdown after 3 lines: "` + gate.ShutdownMarker + `"`; res.String() != exp {
		t.Fatalf("expected %q; got %q", exp, res.String())
	}
}

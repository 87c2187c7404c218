package sbi

import (
	"bytes"
	"testing"
)

func TestConsoleWriter(t *testing.T) {
	defer func() { callFn = call }()

	var buf bytes.Buffer
	callFn = func(ext, arg0, _, _ uintptr) uintptr {
		if ext != extConsolePutchar {
			t.Errorf("expected console putchar extension; got %d", ext)
		}
		buf.WriteByte(byte(arg0))
		return 0
	}

	exp := "hello from the kernel\n"
	n, err := Console.Write([]byte(exp))
	if err != nil {
		t.Fatal(err)
	}

	if n != len(exp) {
		t.Fatalf("expected to write %d bytes; wrote %d", len(exp), n)
	}

	if got := buf.String(); got != exp {
		t.Fatalf("expected console output %q; got %q", exp, got)
	}
}

func TestConsoleGetchar(t *testing.T) {
	defer func() { callFn = call }()

	specs := []struct {
		ret   uintptr
		expCh byte
		expOK bool
	}{
		{consoleNoInputValue, 0, false},
		{'k', 'k', true},
	}

	for specIndex, spec := range specs {
		callFn = func(_, _, _, _ uintptr) uintptr { return spec.ret }

		ch, ok := ConsoleGetchar()
		if ch != spec.expCh || ok != spec.expOK {
			t.Errorf("[spec %d] expected (%d, %t); got (%d, %t)", specIndex, spec.expCh, spec.expOK, ch, ok)
		}
	}
}

func TestShutdownAndTimer(t *testing.T) {
	defer func() { callFn = call }()

	var calls []uintptr
	callFn = func(ext, _, _, _ uintptr) uintptr {
		calls = append(calls, ext)
		return 0
	}

	SetTimer(1000)
	Shutdown()

	if len(calls) != 2 || calls[0] != extSetTimer || calls[1] != extSystemShutdown {
		t.Fatalf("expected calls [set-timer shutdown]; got %v", calls)
	}
}

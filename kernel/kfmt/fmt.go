// Package kfmt implements the kernel's console formatting and panic paths. The
// Printf implementation in this package never allocates memory so it can be
// used before the heap arena is installed and from within trap handlers.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize bounds the width of formatted numbers, padding included.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numBuf [numBufSize]byte

	// scratch is a shared one-byte buffer. Slicing a string into a []byte
	// would allocate, so string data is emitted through it byte by byte.
	scratch = []byte(" ")

	// earlyPrintBuffer captures Printf output until SetOutputSink
	// installs a console.
	earlyPrintBuffer ringBuffer

	// outputSink receives Printf output. While nil, output is kept in
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink makes w the target of Printf and replays any output that was
// buffered before a sink was available.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the currently installed output sink or nil while
// output is still being buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// activeSink forwards writes to whatever sink is installed at the time of the
// write.
type activeSink struct{}

func (activeSink) Write(p []byte) (int, error) {
	doWrite(outputSink, p)
	return len(p), nil
}

// ActiveSink is an io.Writer that always targets the current output sink. It
// is meant to be used as the Sink of package-level PrefixWriters that are
// declared before any console exists.
var ActiveSink io.Writer = activeSink{}

// Printf formats according to a format specifier and writes to the active
// output sink. Supported verbs:
//
//	%s  string or []byte
//	%d  base 10 integer
//	%x  base 16 integer, lower-case
//	%o  base 8 integer
//	%t  bool
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
//
// Arguments are never checked for fmt.Stringer since itables may not have
// been initialized when Printf is first called; %p is not supported for the
// same reason.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes its output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		pos      int
		end      = len(format)
	)

	for pos < end {
		if format[pos] != '%' {
			emitByte(w, format[pos])
			pos++
			continue
		}

		// Parse the optional width and the verb that follows.
		width = 0
		for pos++; pos < end && format[pos] >= '0' && format[pos] <= '9'; pos++ {
			width = width*10 + int(format[pos]-'0')
		}

		if pos == end {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[pos]
		pos++

		switch verb {
		case '%':
			emitByte(w, '%')
		case 'd', 'x', 'o', 's', 't':
			if argIndex >= len(args) {
				doWrite(w, errMissingArg)
				continue
			}

			arg := args[argIndex]
			argIndex++

			switch verb {
			case 'd':
				fmtInt(w, arg, 10, width)
			case 'x':
				fmtInt(w, arg, 16, width)
			case 'o':
				fmtInt(w, arg, 8, width)
			case 's':
				fmtString(w, arg, width)
			case 't':
				fmtBool(w, arg)
			}
		default:
			doWrite(w, errNoVerb)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func emitByte(w io.Writer, b byte) {
	scratch[0] = b
	doWrite(w, scratch)
}

func emitRepeat(w io.Writer, b byte, count int) {
	for ; count > 0; count-- {
		emitByte(w, b)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		emitRepeat(w, ' ', width-len(s))
		for i := 0; i < len(s); i++ {
			emitByte(w, s[i])
		}
	case []byte:
		emitRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtInt writes v in the requested base (8, 10 or 16) left-padded to width.
// All built-in integer types are supported.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		mag      uint64
		negative bool
		padCh    byte = '0'
	)

	switch n := v.(type) {
	case uint8:
		mag = uint64(n)
	case uint16:
		mag = uint64(n)
	case uint32:
		mag = uint64(n)
	case uint64:
		mag = n
	case uint:
		mag = uint64(n)
	case uintptr:
		mag = uint64(n)
	case int8:
		mag, negative = abs(int64(n))
	case int16:
		mag, negative = abs(int64(n))
	case int32:
		mag, negative = abs(int64(n))
	case int64:
		mag, negative = abs(n)
	case int:
		mag, negative = abs(int64(n))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if base == 10 {
		padCh = ' '
	}

	if width >= numBufSize {
		width = numBufSize - 1
	}

	// Digits are produced right to left starting at the end of numBuf.
	pos := numBufSize
	for {
		digit := mag % base
		pos--
		if digit < 10 {
			numBuf[pos] = byte(digit) + '0'
		} else {
			numBuf[pos] = byte(digit-10) + 'a'
		}

		if mag /= base; mag == 0 {
			break
		}
	}

	// Space padding goes before the sign while zero padding goes after it.
	signLen := 0
	if negative {
		if padCh == ' ' {
			pos--
			numBuf[pos] = '-'
		} else {
			signLen = 1
		}
	}

	for numBufSize-pos+signLen < width && pos > 1 {
		pos--
		numBuf[pos] = padCh
	}

	if signLen != 0 {
		pos--
		numBuf[pos] = '-'
	}

	doWrite(w, numBuf[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

// doWrite hides p from escape analysis before handing it to w. Without this
// the compiler cannot prove that p does not escape through the io.Writer
// interface call and every Printf would trigger a heap allocation.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
		return
	}
	earlyPrintBuffer.Write(p)
}

// noEscape hides a pointer from escape analysis. It is a copy of the helper
// found in runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

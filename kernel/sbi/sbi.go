// Package sbi implements the small subset of the Supervisor Binary Interface
// that the kernel relies on: byte-oriented console I/O and machine shutdown.
package sbi

// Legacy SBI extension IDs.
const (
	extSetTimer         = uintptr(0)
	extConsolePutchar   = uintptr(1)
	extConsoleGetchar   = uintptr(2)
	extSystemShutdown   = uintptr(8)
	noArg               = uintptr(0)
	consoleNoInputValue = ^uintptr(0)
)

// callFn is mocked by tests and is automatically inlined by the compiler.
var callFn = call

// ConsolePutchar writes a single byte to the firmware console.
func ConsolePutchar(ch byte) {
	callFn(extConsolePutchar, uintptr(ch), noArg, noArg)
}

// ConsoleGetchar reads a byte from the firmware console. The second return
// value is false if no input is pending.
func ConsoleGetchar() (byte, bool) {
	ret := callFn(extConsoleGetchar, noArg, noArg, noArg)
	if ret == consoleNoInputValue {
		return 0, false
	}
	return byte(ret), true
}

// SetTimer programs the next timer event.
func SetTimer(stime uint64) {
	callFn(extSetTimer, uintptr(stime), noArg, noArg)
}

// Shutdown asks the firmware to power off the machine. It only returns if
// the firmware refuses the request.
func Shutdown() {
	callFn(extSystemShutdown, noArg, noArg, noArg)
}

// consoleWriter adapts the firmware console to io.Writer.
type consoleWriter struct{}

// Write sends p to the firmware console one byte at a time.
func (consoleWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		ConsolePutchar(b)
	}
	return len(p), nil
}

// Console is an io.Writer that outputs to the firmware console. It is the
// output sink installed by Kmain.
var Console consoleWriter

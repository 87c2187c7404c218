// Command bootcheck watches the serial console of a booting kernel image
// (typically the pty QEMU allocates with -serial pty) and turns its output
// into an exit status: 0 once the scheduler shuts the machine down cleanly,
// 1 on a kernel panic, a failed boot self test or a timeout.
//
// Usage:
//
//	bootcheck -tty /dev/pts/3 -timeout 30s
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"time"

	tty "github.com/mattn/go-tty"
)

func main() {
	ttyPath := flag.String("tty", "", "path to the serial console device")
	timeout := flag.Duration("timeout", 30*time.Second, "time to wait for the kernel to shut down")
	quiet := flag.Bool("quiet", false, "do not echo console output")
	flag.Parse()

	log.SetPrefix("[bootcheck] ")
	log.SetFlags(0)

	if *ttyPath == "" {
		log.Fatal("missing -tty argument")
	}

	var echo io.Writer
	if !*quiet {
		echo = os.Stdout
	}

	os.Exit(run(*ttyPath, *timeout, echo))
}

func run(ttyPath string, timeout time.Duration, echo io.Writer) int {
	console, err := tty.OpenDevice(ttyPath)
	if err != nil {
		log.Printf("%s: %v", ttyPath, err)
		return 1
	}
	defer console.Close()

	restore := console.MustRaw()
	defer restore()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res := NewMonitor(echo).Watch(ctx, console.Input())
	log.Print(res.String())
	if !res.Passed() {
		return 1
	}
	return 0
}

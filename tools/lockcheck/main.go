// Command lockcheck reports calls that resume a trap outcome while a kernel
// spinlock acquired by the calling function is still held. Resuming a
// context never returns, so such a lock would stay held forever and the
// next thread trying to acquire it would spin the hart.
//
// Usage:
//
//	lockcheck ./kernel/...
package main

import "golang.org/x/tools/go/analysis/singlechecker"

func main() {
	singlechecker.Main(Analyzer)
}

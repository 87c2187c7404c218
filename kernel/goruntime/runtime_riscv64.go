package goruntime

import _ "unsafe" // required for go:linkname

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

// runtimeInit performs the parts of the runtime bootstrap that the rt0 code
// skips. It requires the runtime window to be reachable.
func runtimeInit() {
	mallocInit()
	algInit()       // setup hash implementation for map keys
	modulesInit()   // provides activeModules
	typeLinksInit() // uses maps, activeModules
	itabsInit()     // uses activeModules
}

package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error so that reporting them never requires a memory
// allocation; this matters on trap paths and before the heap arena is up.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// internal/recovery/recovery.go
package recovery

import (
	"fmt"
	"os"
	"runtime/debug"
)

// PanicError carries a recovered panic value and the stack where it happened.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// HandlePanic is deferred at the top of main and of every goroutine the
// commands start. It prints the panic with its stack and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		fatal(r, nil)
	}
}

// HandlePanicFunc is HandlePanic with a cleanup run before exiting, such as
// releasing a key line or flushing a recording.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		fatal(r, cleanup)
	}
}

func fatal(r any, cleanup func()) {
	_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
	if cleanup != nil {
		cleanup()
	}
	os.Exit(1)
}

// Recover turns a panic into a *PanicError stored in errp instead of exiting.
// It must be deferred directly:
//
//	func call() (err error) {
//		defer recovery.Recover(&err)
//		return collaborator()
//	}
func Recover(errp *error) {
	if r := recover(); r != nil {
		if errp != nil {
			*errp = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}
}

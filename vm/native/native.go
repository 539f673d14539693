// Package native provides the closed-form loop backend for the
// interpreter's top compilation tier. Importing it does nothing until
// Register is called, so embedders can leave it out entirely.
package native

import (
	"github.com/chazu/nlbc/vm"
)

type countingBackend struct{}

func (countingBackend) RunCountingLoop(start, limit, step int64, inclusive bool) (iterations, final int64, ok bool) {
	if step <= 0 {
		return 0, 0, false
	}
	if inclusive {
		limit++
	}
	if start >= limit {
		return 0, start, true
	}
	n := (limit - start + step - 1) / step
	return n, start + n*step, true
}

// Register installs the counting-loop backend.
func Register() {
	vm.RegisterNativeLoopBackend(countingBackend{})
}

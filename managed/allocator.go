package managed

import (
	"sync"

	"go.uber.org/zap"

	clrembed "github.com/wippyai/clr-embed"
)

// The allocator vtable is process state: the first System that carries
// overrides installs it, later Systems share it, and it is released when
// the last System using it closes.
var allocState struct {
	mu    sync.Mutex
	vt    clrembed.Allocator
	funcs *clrembed.AllocatorFuncs
	refs  int
}

// acquireAllocator returns the process allocator vtable, installing one
// built from funcs if none exists. It returns nil when no overrides are
// installed or requested.
func acquireAllocator(funcs *clrembed.AllocatorFuncs) clrembed.Allocator {
	allocState.mu.Lock()
	defer allocState.mu.Unlock()

	if allocState.vt == nil {
		if funcs.Empty() {
			return nil
		}
		allocState.vt = funcs.Vtable()
		allocState.funcs = funcs
		Logger().Debug("allocator overrides installed")
	} else if !funcs.Empty() && funcs != allocState.funcs {
		Logger().Warn("allocator overrides already installed; keeping the existing vtable",
			zap.Int("systems", allocState.refs))
	}
	allocState.refs++
	return allocState.vt
}

// releaseAllocator drops one reference taken by acquireAllocator.
func releaseAllocator() {
	allocState.mu.Lock()
	defer allocState.mu.Unlock()

	if allocState.refs == 0 {
		return
	}
	allocState.refs--
	if allocState.refs == 0 {
		allocState.vt = nil
		allocState.funcs = nil
		Logger().Debug("allocator overrides released")
	}
}

// AllocatorInstalled reports whether an allocator vtable is installed.
func AllocatorInstalled() bool {
	allocState.mu.Lock()
	defer allocState.mu.Unlock()
	return allocState.vt != nil
}

package loader

import (
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// invoke transfers control to the entry address with the fixed ABI the
// loaded code expects: pointer to the argument buffer and its total size
// in bytes, returning a pointer to a zero-terminated result string.
func invoke(entry uintptr, args []byte) uintptr {
	r1, _, _ := purego.SyscallN(entry, uintptr(unsafe.Pointer(&args[0])), uintptr(len(args)))
	runtime.KeepAlive(args)

	return r1
}

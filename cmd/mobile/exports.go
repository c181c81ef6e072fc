// Package main provides FFI exports for mobile platforms (Android/iOS).
// All exported functions use C calling convention and can be called from Dart FFI.
// Every function returning *C.char hands ownership to the caller, who must
// release it with FreeString.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

var core = &bridge{}

//export KioskInit
func KioskInit(options *C.char) *C.char {
	return C.CString(core.Init(C.GoString(options)))
}

//export KioskEnqueue
func KioskEnqueue(request *C.char) *C.char {
	return C.CString(core.Enqueue(C.GoString(request)))
}

//export KioskQueueStatus
func KioskQueueStatus() *C.char {
	return C.CString(core.QueueStatus())
}

//export KioskForceSync
func KioskForceSync() *C.char {
	return C.CString(core.ForceSync())
}

//export KioskSetOnline
func KioskSetOnline(online C.int) *C.char {
	return C.CString(core.SetOnline(online != 0))
}

//export KioskShutdown
func KioskShutdown() *C.char {
	return C.CString(core.Shutdown())
}

//export KioskLastError
func KioskLastError() *C.char {
	return C.CString(core.LastError())
}

//export FreeString
func FreeString(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

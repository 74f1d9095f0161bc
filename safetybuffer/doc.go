// Package safetybuffer keeps a reserve of heap memory that is released when
// an allocation fails, so the failing enclave call can unwind and report an
// error instead of crashing the process.
//
// A Supervisor owns the buffer. Entry points run through Supervisor.Protect,
// which tops the buffer back up before the call and converts allocation
// failures inside it into ErrOutOfMemory. Allocator is the instrumented
// allocation path: requests above its ceiling invoke the Hook, which sets
// the out-of-memory flag, releases the buffer and aborts the call.
//
// The Go runtime treats real heap exhaustion as fatal, so detection here is
// limited to allocations routed through Allocator. The Hook interface keeps
// the detection mechanism swappable.
package safetybuffer

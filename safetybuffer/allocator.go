package safetybuffer

// Allocator hands out host buffers whose size is chosen by untrusted
// input. Requests above the ceiling are treated as allocation failures and
// reported to the hook.
type Allocator struct {
	max  int
	hook Hook
}

func NewAllocator(max int, hook Hook) *Allocator {
	return &Allocator{max: max, hook: hook}
}

func (a *Allocator) Alloc(n int) []byte {
	if n < 0 || n > a.max {
		a.hook.AllocationFailed(n)
		// hooks are not supposed to return
		panic(&AllocationError{Size: n})
	}
	return make([]byte, n)
}

func (a *Allocator) Max() int {
	return a.max
}

package pending

import "github.com/relaypoint/writeq/internal/interfaces"

// multiHandle fires every constituent handle when it fires, in the order
// they were attached. It is how markFlushCheckpoint implements the
// cascade rule (§4.1 case 3): a flush checkpoint's handle already present
// on the mark item gets a second handle chained onto it without either
// handle needing to know about chaining.
type multiHandle []interfaces.CompletionHandle

func (m multiHandle) Succeed() {
	for _, h := range m {
		h.Succeed()
	}
}

func (m multiHandle) Fail(err error) {
	for _, h := range m {
		h.Fail(err)
	}
}

// attachHandle combines existing and next so that firing the result fires
// both, existing first. Either argument may be nil.
func attachHandle(existing, next interfaces.CompletionHandle) interfaces.CompletionHandle {
	switch {
	case existing == nil:
		return next
	case next == nil:
		return existing
	}
	if m, ok := existing.(multiHandle); ok {
		return append(m, next)
	}
	return multiHandle{existing, next}
}

// Notification is a single (handle, outcome) pair queued for synchronous
// delivery after a drain pass mutates queue state.
type Notification struct {
	handle interfaces.CompletionHandle
	err    error // nil means success
}

// FanOut is the deferred notification action didWrite/failAll produce. It
// must be run by the caller after the triggering state mutation has been
// fully applied, and in order.
type FanOut []Notification

// Run delivers every queued notification, in order, synchronously.
func (f FanOut) Run() {
	for _, n := range f {
		if n.handle == nil {
			continue
		}
		if n.err != nil {
			n.handle.Fail(n.err)
		} else {
			n.handle.Succeed()
		}
	}
}

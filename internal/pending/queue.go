// Package pending implements PendingState: the pure, syscall-free data
// structure backing a single connection's outbound write queue. It knows
// nothing about sockets, syscalls, or event loops — only about ordering,
// partial consumption, and completion handle bookkeeping.
package pending

import "github.com/relaypoint/writeq/internal/interfaces"

// Outcome classifies the result of a drain attempt.
type Outcome int

const (
	// WrittenCompletely means every item the caller attempted to write
	// was fully consumed.
	WrittenCompletely Outcome = iota
	// WrittenPartially means progress was made but at least one
	// attempted item remains (fully or partly) in the queue.
	WrittenPartially
	// WouldBlock means the syscall reported no progress at all.
	WouldBlock
)

// Result is the outcome of a single syscall attempt: processed(n) when
// WouldBlock is false, wouldBlock(n) when it is true (n may be 0).
type Result struct {
	N          int64
	WouldBlock bool
}

// Queue is PendingState: an ordered sequence of *Item with a movable
// flush mark and aggregate byte accounting.
//
// Invariants (spec §3, §8):
//   - bytes == sum of Remaining() over all queued items
//   - chunks == len(items)
//   - flushMark, if set, is within [0, len(items))
//   - the front item, if any, always has Remaining() > 0
type Queue struct {
	items     []*Item
	bytes     int64
	flushMark int // -1 means unset
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{flushMark: -1}
}

// Chunks returns the number of items currently queued.
func (q *Queue) Chunks() int { return len(q.items) }

// Bytes returns the aggregate remaining byte count across the queue.
func (q *Queue) Bytes() int64 { return q.bytes }

// FlushMark returns the current flush mark index and whether one is set.
func (q *Queue) FlushMark() (int, bool) {
	if q.flushMark < 0 {
		return 0, false
	}
	return q.flushMark, true
}

// FlushedCount returns how many leading items are eligible to be written
// now (i.e. up to and including the flush mark). Zero if no mark is set.
func (q *Queue) FlushedCount() int {
	if q.flushMark < 0 {
		return 0
	}
	return q.flushMark + 1
}

// Append enqueues item at the tail. Never touches the flush mark.
func (q *Queue) Append(item *Item) {
	if item.Remaining() < 0 {
		panic("pending: logic violation: appended item with negative remaining")
	}
	q.items = append(q.items, item)
	q.bytes += item.Remaining()
}

// At returns read-only indexed access for the gather path. Panics on an
// out-of-range index — callers always bound i by Chunks()/FlushedCount().
func (q *Queue) At(i int) *Item {
	return q.items[i]
}

// MarkFlushCheckpoint moves the flush mark to the current last item and
// attaches handle per the three sub-cases in spec §4.1. Returns a FanOut
// that is empty unless the queue was empty and handle fires immediately.
func (q *Queue) MarkFlushCheckpoint(handle interfaces.CompletionHandle) FanOut {
	if len(q.items) == 0 {
		if handle != nil {
			return FanOut{{handle: handle}}
		}
		return nil
	}

	last := len(q.items) - 1
	q.flushMark = last
	if handle != nil {
		q.items[last].handle = attachHandle(q.items[last].handle, handle)
	}
	return nil
}

// fullyWrittenFirst removes the head item, which must be fully consumed,
// and returns its completion handle (if any).
func (q *Queue) fullyWrittenFirst() interfaces.CompletionHandle {
	head := q.items[0]
	if head.Remaining() != 0 {
		panic("pending: logic violation: fullyWrittenFirst on item with bytes remaining")
	}
	handle := head.handle

	q.items = q.items[1:]
	switch {
	case q.flushMark == 0:
		q.flushMark = -1
	case q.flushMark > 0:
		q.flushMark--
	}
	return handle
}

// partiallyWrittenFirst advances the head item's read cursor by n bytes.
// The head stays at index 0; the flush mark is unaffected.
func (q *Queue) partiallyWrittenFirst(n int64) {
	head := q.items[0]
	head.advance(n)
	q.bytes -= n
}

// DidWrite is the drain-consumption primitive (spec §4.1). itemCount is
// how many leading items the caller attempted to write; result is the
// syscall outcome. It returns the notifications to deliver and the
// categorical outcome.
func (q *Queue) DidWrite(itemCount int, result Result) (FanOut, Outcome) {
	if result.WouldBlock && result.N == 0 {
		return nil, WouldBlock
	}

	var fan FanOut
	remaining := result.N
	consumedItems := 0
	for consumedItems < itemCount {
		if len(q.items) == 0 {
			panic("pending: logic violation: DidWrite itemCount exceeds queue length")
		}
		head := q.items[0].Remaining()
		if remaining >= head {
			remaining -= head
			q.partiallyWrittenFirst(head)
			if h := q.fullyWrittenFirst(); h != nil {
				fan = append(fan, Notification{handle: h})
			}
			consumedItems++
			continue
		}
		q.partiallyWrittenFirst(remaining)
		return fan, WrittenPartially
	}

	if remaining != 0 {
		panic("pending: logic violation: DidWrite left unconsumed byte count")
	}
	return fan, WrittenCompletely
}

// FailAll drains the queue head-to-tail, collecting every remaining
// handle, and returns a FanOut that signals each with err in order. After
// this call the queue is empty: Chunks()==0, Bytes()==0, no flush mark.
func (q *Queue) FailAll(err error) FanOut {
	var fan FanOut
	for len(q.items) > 0 {
		head := q.items[0]
		// FailAll may run against items with bytes still unconsumed
		// (unlike fullyWrittenFirst's normal precondition), so drop the
		// head directly rather than reusing fullyWrittenFirst's
		// zero-remaining assertion.
		q.bytes -= head.Remaining()
		q.items = q.items[1:]
		if head.handle != nil {
			fan = append(fan, Notification{handle: head.handle, err: err})
		}
	}
	q.flushMark = -1
	if q.bytes != 0 {
		panic("pending: logic violation: FailAll left nonzero byte count")
	}
	return fan
}

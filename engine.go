// Package writeq implements a non-blocking event-loop write engine: a
// per-connection outbound queue that batches, flushes, and retries
// heterogeneous write items (in-memory buffers and file regions) via
// caller-supplied write/writev/sendfile closures, with watermark-based
// flow control and FIFO completion delivery even under partial writes.
package writeq

import (
	"sync/atomic"
	"time"

	"github.com/relaypoint/writeq/internal/constants"
	"github.com/relaypoint/writeq/internal/gather"
	"github.com/relaypoint/writeq/internal/interfaces"
	"github.com/relaypoint/writeq/internal/pending"
)

// WriteOutcome classifies the result of a Trigger call.
type WriteOutcome int

const (
	// NothingToBeWritten means Trigger was called with no flushed items.
	NothingToBeWritten WriteOutcome = iota
	// WrittenCompletely means the drain fully consumed everything it
	// attempted.
	WrittenCompletely
	// WrittenPartially means progress was made but the batch did not
	// fully drain, or the spin bound was exhausted.
	WrittenPartially
	// WouldBlockOutcome means the syscall reported no progress at all.
	WouldBlockOutcome
	// ClosedOutcome means the engine's closed flag was observed at the start
	// of Trigger or between vector-path spins; no further syscall was
	// attempted.
	ClosedOutcome
)

func (o WriteOutcome) String() string {
	switch o {
	case NothingToBeWritten:
		return "NothingToBeWritten"
	case WrittenCompletely:
		return "WrittenCompletely"
	case WrittenPartially:
		return "WrittenPartially"
	case WouldBlockOutcome:
		return "WouldBlock"
	case ClosedOutcome:
		return "Closed"
	default:
		return "Unknown"
	}
}

// SingleOp attempts one contiguous write of p. wouldBlock true means the
// write returned EAGAIN-shaped after transferring n bytes (n may be 0).
type SingleOp func(p []byte) (n int, wouldBlock bool, err error)

// VectorOp attempts one vectored write over vecs, same return shape as
// SingleOp. It satisfies gather.Syscall directly.
type VectorOp func(vecs []gather.Vec) (n int64, wouldBlock bool, err error)

// FileOp attempts one zero-copy transfer of [begin, end) from fd.
type FileOp func(fd uintptr, begin, end int64) (n int64, wouldBlock bool, err error)

// Watermark is the low/high byte-count pair governing writability flips.
type Watermark struct {
	Low  int64
	High int64
}

// Config configures an Engine. The zero value is filled in with the
// package defaults by New/NewShared.
type Config struct {
	// WriteSpinCount bounds how many drain iterations a single Trigger
	// call may perform before yielding back to the event loop.
	WriteSpinCount int
	// Watermark is the [low, high] byte-count pair for writability.
	Watermark Watermark
	// VectorLimitCount is the writev scatter-count limit (normally
	// iosyscall.Unix{}.IovMax() on the loop's platform). Also determines
	// the size of the scratch arrays New allocates.
	VectorLimitCount int
	// VectorLimitBytes bounds the total byte count a single vectored
	// write may report.
	VectorLimitBytes int64
	// Logger receives a Debugf trace line for every Add (item kind, item
	// bytes, queue total). Draining, watermark flips, and FailAll are not
	// traced. Nil disables tracing.
	Logger interfaces.Logger
	// Observer receives drain/trigger/watermark observations. Nil is
	// filled in with NoOpObserver by setDefaults; pass NewMetricsObserver
	// to route events into a *Metrics instance.
	Observer Observer
}

func (c *Config) setDefaults() {
	if c.WriteSpinCount == 0 {
		c.WriteSpinCount = constants.DefaultWriteSpinCount
	}
	if c.Watermark.Low == 0 {
		c.Watermark.Low = constants.DefaultLowWatermark
	}
	if c.Watermark.High == 0 {
		c.Watermark.High = constants.DefaultHighWatermark
	}
	if c.VectorLimitCount == 0 {
		c.VectorLimitCount = constants.DefaultVectorLimitCount
	}
	if c.VectorLimitBytes == 0 {
		c.VectorLimitBytes = constants.VectorLimitBytes
	}
	if c.Observer == nil {
		c.Observer = NoOpObserver{}
	}
}

// Engine is WriteEngine: a PendingState plus the pre-allocated iovec and
// storage-retention scratch it lends to VectorGather, a watermark pair, an
// atomic writability flag, and a spin bound.
//
// All methods except IsWritable must be called from the single owning
// event-loop thread; correctness is by thread confinement, not locking.
type Engine struct {
	cfg Config

	q       *pending.Queue
	scratch []gather.Vec
	storage []interfaces.BufferStorage

	writable atomic.Bool
	closed   bool
}

// New allocates its own scratch arrays, sized to cfg.VectorLimitCount.
// Prefer NewShared in a real event loop, where the scratch arrays are
// owned by the loop and lent across every connection's Engine.
func New(cfg Config) *Engine {
	cfg.setDefaults()
	return NewShared(make([]gather.Vec, cfg.VectorLimitCount), make([]interfaces.BufferStorage, cfg.VectorLimitCount), cfg)
}

// NewShared constructs an Engine borrowing loop-owned scratch arrays.
// scratch and storage must each have length at least cfg.VectorLimitCount.
// Safe to share across every connection on one loop only because the loop
// is single-threaded and drains at most one connection at a time.
func NewShared(scratch []gather.Vec, storage []interfaces.BufferStorage, cfg Config) *Engine {
	cfg.setDefaults()
	if len(scratch) < cfg.VectorLimitCount || len(storage) < cfg.VectorLimitCount {
		panic("writeq: scratch/storage arrays shorter than VectorLimitCount")
	}
	e := &Engine{
		cfg:     cfg,
		q:       pending.New(),
		scratch: scratch,
		storage: storage,
	}
	e.writable.Store(true)
	return e
}

// IsWritable may be called from any goroutine; it is the one exception to
// the event-loop thread-confinement rule.
func (e *Engine) IsWritable() bool { return e.writable.Load() }

// QueueDepth returns the number of items currently queued.
func (e *Engine) QueueDepth() int { return e.q.Chunks() }

// QueueBytes returns the aggregate remaining byte count across the queue.
func (e *Engine) QueueBytes() int64 { return e.q.Bytes() }

// Add appends item to the queue. Precondition: the engine is not closed.
func (e *Engine) Add(item *pending.Item) (stillWritable bool) {
	if e.closed {
		panic(errClosed)
	}
	e.q.Append(item)
	if e.cfg.Logger != nil {
		e.cfg.Logger.Debugf("writeq: add kind=%d bytes=%d total=%d", item.Kind, item.Remaining(), e.q.Bytes())
	}
	if e.q.Bytes() > e.cfg.Watermark.High && e.writable.CompareAndSwap(true, false) {
		e.cfg.Observer.ObserveWritabilityFlip(false)
		return false
	}
	return true
}

// MarkFlushCheckpoint delegates to the PendingState, then runs any
// immediate fan-out (the empty-queue-with-handle sub-case).
func (e *Engine) MarkFlushCheckpoint(handle interfaces.CompletionHandle) {
	if e.closed {
		panic(errClosed)
	}
	e.q.MarkFlushCheckpoint(handle).Run()
}

// Trigger drains as much of the queue as the configured spin bound
// permits, choosing the vector path when at least two flushed items are
// queued and both heads are byte buffers, and the single path otherwise.
//
// writabilityChanged is true iff the engine was not writable at the start
// of this call and became writable during it. err, when non-nil, is a
// syscall failure surfaced from one of the caller's closures, wrapped as a
// *Error by WrapSyscallError; queue state is left intact and the caller is
// expected to classify it (IsFatal) and typically follow up with FailAll.
func (e *Engine) Trigger(single SingleOp, vector VectorOp, file FileOp) (outcome WriteOutcome, writabilityChanged bool, err error) {
	start := time.Now()
	defer func() {
		e.cfg.Observer.ObserveTrigger(outcome, time.Since(start))
	}()

	if e.closed {
		return ClosedOutcome, false, nil
	}

	wasWritable := e.writable.Load()

	if e.q.FlushedCount() == 0 {
		return NothingToBeWritten, false, nil
	}

	if e.vectorPathEligible() {
		outcome, err = e.runVectorPath(vector)
	} else {
		outcome, err = e.runSinglePath(single, file)
	}
	if err != nil {
		return outcome, false, WrapSyscallError("trigger", err)
	}

	writabilityChanged = !wasWritable && e.writable.Load()
	return outcome, writabilityChanged, nil
}

func (e *Engine) vectorPathEligible() bool {
	if e.q.FlushedCount() < 2 {
		return false
	}
	return e.q.At(0).Kind == pending.KindBuffer && e.q.At(1).Kind == pending.KindBuffer
}

func (e *Engine) runSinglePath(single SingleOp, file FileOp) (WriteOutcome, error) {
	for spin := 0; spin < e.cfg.WriteSpinCount; spin++ {
		item := e.q.At(0)

		var n int64
		var wouldBlock bool
		var err error
		if item.Kind == pending.KindBuffer {
			nn, wb, opErr := single(item.Bytes())
			n, wouldBlock, err = int64(nn), wb, opErr
		} else {
			fd, begin, end := item.FileRange()
			n, wouldBlock, err = file(fd, begin, end)
		}
		if err != nil {
			return WrittenPartially, err
		}

		fan, do := e.q.DidWrite(1, pending.Result{N: n, WouldBlock: wouldBlock})
		e.afterDrain(n)
		fan.Run()

		switch do {
		case pending.WouldBlock:
			return WouldBlockOutcome, nil
		case pending.WrittenPartially:
			continue
		case pending.WrittenCompletely:
			return WrittenCompletely, nil
		}
	}
	return WrittenPartially, nil
}

func (e *Engine) runVectorPath(vector VectorOp) (WriteOutcome, error) {
	for spin := 0; spin < e.cfg.WriteSpinCount; spin++ {
		if e.closed {
			return ClosedOutcome, nil
		}

		limit := e.cfg.VectorLimitCount
		itemCount, result, err := gather.Gather(e.q, e.scratch[:limit], e.storage[:limit], e.cfg.VectorLimitBytes, gather.Syscall(vector))
		if err != nil {
			return WrittenPartially, err
		}

		fan, do := e.q.DidWrite(itemCount, result)
		e.afterDrain(result.N)
		fan.Run()

		switch do {
		case pending.WouldBlock:
			return WouldBlockOutcome, nil
		case pending.WrittenPartially:
			continue
		case pending.WrittenCompletely:
			return WrittenCompletely, nil
		}
	}
	return WrittenPartially, nil
}

// afterDrain applies the watermark policy: unconditionally flip writable
// once bytes drop below the low watermark. Transition from true->false
// happens only inside Add, via CAS.
func (e *Engine) afterDrain(n int64) {
	e.cfg.Observer.ObserveDrainBytes(n)
	if e.q.Bytes() < e.cfg.Watermark.Low {
		wasWritable := e.writable.Swap(true)
		if !wasWritable {
			e.cfg.Observer.ObserveWritabilityFlip(true)
		}
	}
}

// FailAll drains the queue head-to-tail via PendingState.FailAll and runs
// the resulting fan-out synchronously, signalling every pending handle
// with err. When close is true the engine becomes permanently closed;
// calling FailAll(_, true) twice is a logic violation.
func (e *Engine) FailAll(err error, close bool) {
	if close {
		if e.closed {
			panic("writeq: FailAll(close: true) called on an already-closed engine")
		}
		e.closed = true
	}
	fan := e.q.FailAll(err)
	fan.Run()
	if e.q.Chunks() != 0 {
		panic("writeq: logic violation: FailAll left items queued")
	}
}

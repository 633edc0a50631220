// Package gather implements VectorGather: the stateless procedure that
// packs a run of flushed byte-buffer items from a pending.Queue into a
// pre-allocated scatter array, invokes a caller-supplied vectored-write
// closure, and unwinds storage retention regardless of outcome.
package gather

import (
	"github.com/relaypoint/writeq/internal/interfaces"
	"github.com/relaypoint/writeq/internal/pending"
)

// Vec is one scatter/gather entry. Its shape mirrors unix.Iovec (base
// pointer + length) without this package importing golang.org/x/sys/unix;
// the loop-owned caller is responsible for the actual writev invocation and
// for constructing unix.Iovec values from the Base/Len pair if needed.
type Vec struct {
	Base *byte
	Len  uint64
}

// Syscall is the caller-supplied vectored-write closure. It attempts a
// single writev-shaped syscall over vecs and reports bytes transferred (n)
// or would-block-after-n-bytes.
type Syscall func(vecs []Vec) (n int64, wouldBlock bool, err error)

// Gather runs one VectorGather pass (spec §4.2) against q, using scratch
// and storage as the loop-owned pre-allocated arrays — both must have
// length at least the platform's vector count limit; that length is what
// bounds VECTOR_LIMIT_COUNT here. limitBytes bounds the total byte count a
// single entry may contribute (VECTOR_LIMIT_BYTES, normally
// math.MaxInt32-ish).
//
// Preconditions: q has at least one flushed item. Gather panics if called
// against a queue with FlushedCount() == 0 — callers must check that
// themselves, exactly like the single-write path does.
//
// Returns the itemCount to feed into q.DidWrite, the raw drain Result, and
// any error the syscall closure returned. On error, itemCount and result
// reflect however many entries were packed (the caller's didWrite call is
// skipped entirely when err != nil — see writeq.Engine.Trigger).
func Gather(q *pending.Queue, scratch []Vec, storage []interfaces.BufferStorage, limitBytes int64, do Syscall) (itemCount int, result pending.Result, err error) {
	flushed := q.FlushedCount()
	if flushed == 0 {
		panic("gather: called with no flushed items")
	}

	limit := len(scratch)
	n := flushed
	hitLimit := flushed > limit
	if n > limit {
		n = limit
	}

	used := 0
	var toWrite int64
	for i := 0; i < n; i++ {
		item := q.At(i)
		if item.Kind == pending.KindFileRegion {
			hitLimit = false
			break
		}

		r := item.Remaining()
		if used > 0 && limitBytes-toWrite < r {
			hitLimit = true
			break
		}

		length := r
		if length > limitBytes {
			length = limitBytes
		}

		item.Storage.Retain()
		storage[i] = item.Storage
		b := item.Bytes()[:length]
		scratch[i] = Vec{Base: &b[0], Len: uint64(length)}
		toWrite += length
		used++
	}

	defer func() {
		for i := 0; i < used; i++ {
			storage[i].Release()
			storage[i] = nil
		}
	}()

	n64, wouldBlock, syscallErr := do(scratch[:used])

	itemCount = used
	if hitLimit {
		itemCount++
	}
	return itemCount, pending.Result{N: n64, WouldBlock: wouldBlock}, syscallErr
}

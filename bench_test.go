package writeq

import (
	"testing"

	"github.com/relaypoint/writeq/internal/bufpool"
	"github.com/relaypoint/writeq/internal/gather"
	"github.com/relaypoint/writeq/internal/interfaces"
	"github.com/relaypoint/writeq/internal/pending"
)

type noopHandle struct{}

func (noopHandle) Succeed()    {}
func (noopHandle) Fail(error) {}

// releaseHandle returns a pooled checkout once the benchmark's engine has
// fully drained it, so repeated b.N iterations actually exercise pool
// reuse instead of missing the pool on every checkout.
type releaseHandle struct{ checkout *bufpool.Checkout }

func (h releaseHandle) Succeed()    { h.checkout.Release() }
func (h releaseHandle) Fail(error) { h.checkout.Release() }

func BenchmarkTriggerAllBuffers(b *testing.B) {
	pool := bufpool.New()
	payload := make([]byte, 256)

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		e := New(Config{})
		for j := 0; j < 8; j++ {
			checkout := pool.Get(len(payload))
			copy(checkout.Bytes(), payload)
			e.Add(pending.NewBufferItem(checkout, releaseHandle{checkout: checkout}))
		}
		e.MarkFlushCheckpoint(nil)
		b.StartTimer()

		for {
			outcome, _, err := e.Trigger(nil, func(vecs []gather.Vec) (int64, bool, error) {
				var n int64
				for _, v := range vecs {
					n += int64(v.Len)
				}
				return n, false, nil
			}, nil)
			if err != nil {
				b.Fatalf("Trigger: %v", err)
			}
			if outcome == WrittenCompletely {
				break
			}
		}
	}
}

func BenchmarkTriggerMixedBufferAndFileRegion(b *testing.B) {
	pool := bufpool.New()
	payload := make([]byte, 256)

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		e := New(Config{})
		checkout := pool.Get(len(payload))
		copy(checkout.Bytes(), payload)
		e.Add(pending.NewBufferItem(checkout, releaseHandle{checkout: checkout}))
		e.Add(pending.NewFileRegionItem(3, 0, 4096, noopHandle{}))
		e.MarkFlushCheckpoint(nil)
		b.StartTimer()

		for {
			outcome, _, err := e.Trigger(
				func(p []byte) (int, bool, error) { return len(p), false, nil },
				func(vecs []gather.Vec) (int64, bool, error) {
					var n int64
					for _, v := range vecs {
						n += int64(v.Len)
					}
					return n, false, nil
				},
				func(fd uintptr, begin, end int64) (int64, bool, error) { return end - begin, false, nil },
			)
			if err != nil {
				b.Fatalf("Trigger: %v", err)
			}
			// The single path reports WrittenCompletely per item, so keep
			// triggering until the file region has been drained too.
			if outcome == WrittenCompletely && e.QueueDepth() == 0 {
				break
			}
		}
	}
}

func BenchmarkGatherPacking(b *testing.B) {
	pool := bufpool.New()
	scratch := make([]gather.Vec, 32)
	storage := make([]interfaces.BufferStorage, 32)

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		q := pending.New()
		checkouts := make([]*bufpool.Checkout, 16)
		for j := 0; j < 16; j++ {
			checkouts[j] = pool.Get(128)
			q.Append(pending.NewBufferItem(checkouts[j], noopHandle{}))
		}
		q.MarkFlushCheckpoint(nil)
		b.StartTimer()

		gather.Gather(q, scratch, storage, 1<<30, func(vecs []gather.Vec) (int64, bool, error) {
			var n int64
			for _, v := range vecs {
				n += int64(v.Len)
			}
			return n, false, nil
		})

		// Gather itself only retains/releases around the syscall closure;
		// it never drains the queue (that's DidWrite's job), so the
		// original pool.Get reference has to be dropped here for the pool
		// to see reuse across iterations.
		for _, c := range checkouts {
			c.Release()
		}
	}
}

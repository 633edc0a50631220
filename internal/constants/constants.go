// Package constants collects the default tunables and platform limits the
// write engine and its gather path depend on.
package constants

import "math"

// Engine defaults (spec §6 Configuration).
const (
	// DefaultWriteSpinCount bounds how many drain iterations a single
	// Trigger call may perform before yielding back to the event loop.
	DefaultWriteSpinCount = 16

	// DefaultLowWatermark is the buffered byte threshold below which the
	// engine becomes writable again after a drain.
	DefaultLowWatermark = 32 * 1024

	// DefaultHighWatermark is the buffered byte threshold above which an
	// Add call flips the engine to not-writable.
	DefaultHighWatermark = 64 * 1024

	// DefaultVectorLimitCount is used whenever Config.VectorLimitCount is
	// left at zero (e.g. in unit tests on any OS). Real callers should
	// prefer iosyscall.Unix{}.IovMax() on Linux.
	DefaultVectorLimitCount = 1024
)

// VectorLimitBytes bounds the total byte count a single vectored write may
// report, so a platform's signed 32-bit syscall return value cannot
// overflow. This is a hard ceiling independent of any particular kernel's
// IOV_MAX.
const VectorLimitBytes = math.MaxInt32

// Buffer pool size buckets for internal/bufpool. A handful of power-of-two
// buckets trade a little internal fragmentation for avoiding a distinct
// sync.Pool per exact size.
const (
	PoolBucket4K   = 4 * 1024
	PoolBucket16K  = 16 * 1024
	PoolBucket64K  = 64 * 1024
	PoolBucket256K = 256 * 1024
)

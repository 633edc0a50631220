// Package bufpool gives internal/pending's storage retention discipline a
// real backing: a size-bucketed sync.Pool, checked out and returned via a
// reference count rather than a bare slice. The spec's retain/release pair
// only does meaningful work because Release can actually hand memory back
// to a pool instead of just letting the garbage collector see it.
package bufpool

import (
	"sync"
	"sync/atomic"

	"github.com/relaypoint/writeq/internal/constants"
)

// Pool is a size-bucketed set of sync.Pool instances. The zero value is not
// usable; use New.
type Pool struct {
	b4k   sync.Pool
	b16k  sync.Pool
	b64k  sync.Pool
	b256k sync.Pool
}

// New returns a ready Pool.
func New() *Pool {
	p := &Pool{}
	p.b4k.New = func() any { b := make([]byte, constants.PoolBucket4K); return &b }
	p.b16k.New = func() any { b := make([]byte, constants.PoolBucket16K); return &b }
	p.b64k.New = func() any { b := make([]byte, constants.PoolBucket64K); return &b }
	p.b256k.New = func() any { b := make([]byte, constants.PoolBucket256K); return &b }
	return p
}

// Checkout is a pooled allocation with retain-counted lifetime. It satisfies
// interfaces.BufferStorage. The zero value is not usable; obtain one from
// Pool.Get.
type Checkout struct {
	pool   *Pool
	bucket int // cap() of the pooled backing slice; 0 means not pool-owned
	buf    []byte
	refs   atomic.Int32
}

// Get returns a Checkout sized exactly to size, backed by a pooled slice
// from the smallest bucket that fits. Allocations larger than the biggest
// bucket bypass the pool entirely. The returned Checkout starts with a
// single reference; callers that hand it to more than one in-flight Item
// (e.g. a cascade) must call Retain for each additional holder.
func (p *Pool) Get(size int) *Checkout {
	c := &Checkout{pool: p}
	switch {
	case size <= constants.PoolBucket4K:
		c.bucket = constants.PoolBucket4K
		c.buf = (*p.b4k.Get().(*[]byte))[:size]
	case size <= constants.PoolBucket16K:
		c.bucket = constants.PoolBucket16K
		c.buf = (*p.b16k.Get().(*[]byte))[:size]
	case size <= constants.PoolBucket64K:
		c.bucket = constants.PoolBucket64K
		c.buf = (*p.b64k.Get().(*[]byte))[:size]
	case size <= constants.PoolBucket256K:
		c.bucket = constants.PoolBucket256K
		c.buf = (*p.b256k.Get().(*[]byte))[:size]
	default:
		c.buf = make([]byte, size)
	}
	c.refs.Store(1)
	return c
}

// Bytes returns the checkout's current backing slice.
func (c *Checkout) Bytes() []byte { return c.buf }

// Truncate reslices the checkout down to the first n bytes, for callers
// that check out a buffer before knowing how much of it a subsequent
// read(2) will actually fill. n must not exceed the checkout's current
// length.
func (c *Checkout) Truncate(n int) {
	c.buf = c.buf[:n]
}

// Retain adds a reference. Call once per additional holder beyond the one
// implicitly held since Get returned.
func (c *Checkout) Retain() { c.refs.Add(1) }

// Release drops a reference. When the count reaches zero the backing slice
// is returned to its bucket pool (or simply dropped, for an oversized
// allocation that bypassed pooling).
func (c *Checkout) Release() {
	if c.refs.Add(-1) > 0 {
		return
	}
	if c.bucket == 0 {
		return
	}
	full := c.buf[:cap(c.buf)]
	switch c.bucket {
	case constants.PoolBucket4K:
		c.pool.b4k.Put(&full)
	case constants.PoolBucket16K:
		c.pool.b16k.Put(&full)
	case constants.PoolBucket64K:
		c.pool.b64k.Put(&full)
	case constants.PoolBucket256K:
		c.pool.b256k.Put(&full)
	}
}

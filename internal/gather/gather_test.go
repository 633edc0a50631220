package gather

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypoint/writeq/internal/interfaces"
	"github.com/relaypoint/writeq/internal/pending"
)

type sliceStorage struct {
	b        []byte
	retained int
}

func (s *sliceStorage) Bytes() []byte { return s.b }
func (s *sliceStorage) Retain()       { s.retained++ }
func (s *sliceStorage) Release()      { s.retained-- }

func bufItem(s string) (*pending.Item, *sliceStorage) {
	st := &sliceStorage{b: []byte(s)}
	return pending.NewBufferItem(st, nil), st
}

func newScratch(n int) ([]Vec, []interfaces.BufferStorage) {
	return make([]Vec, n), make([]interfaces.BufferStorage, n)
}

func TestGatherPacksAllFlushedBuffers(t *testing.T) {
	q := pending.New()
	i1, s1 := bufItem("hello")
	i2, s2 := bufItem(" world")
	q.Append(i1)
	q.Append(i2)
	q.MarkFlushCheckpoint(nil)

	scratch, storage := newScratch(8)
	var seenLen []int
	itemCount, result, err := Gather(q, scratch, storage, 1<<31-1, func(vecs []Vec) (int64, bool, error) {
		var total int64
		for _, v := range vecs {
			seenLen = append(seenLen, int(v.Len))
			total += int64(v.Len)
		}
		return total, false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, itemCount)
	assert.EqualValues(t, 11, result.N)
	assert.Equal(t, []int{5, 6}, seenLen)
	assert.Equal(t, 0, s1.retained, "storage must be released after gather returns")
	assert.Equal(t, 0, s2.retained)
}

func TestGatherStopsAtFileRegionWithoutHittingLimit(t *testing.T) {
	q := pending.New()
	i1, _ := bufItem("ab")
	i2, _ := bufItem("cd")
	f3 := pending.NewFileRegionItem(7, 0, 100, nil)
	i4, _ := bufItem("ef")
	q.Append(i1)
	q.Append(i2)
	q.Append(f3)
	q.Append(i4)
	q.MarkFlushCheckpoint(nil)

	scratch, storage := newScratch(8)
	itemCount, result, err := Gather(q, scratch, storage, 1<<31-1, func(vecs []Vec) (int64, bool, error) {
		assert.Len(t, vecs, 2)
		return 4, false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, itemCount, "hitLimit must be false; the file region is a natural boundary")
	assert.EqualValues(t, 4, result.N)
}

func TestGatherReportsHitLimitWhenVectorCountExceeded(t *testing.T) {
	q := pending.New()
	for i := 0; i < 3; i++ {
		it, _ := bufItem("0123456789")
		q.Append(it)
	}
	q.MarkFlushCheckpoint(nil)

	scratch, storage := newScratch(2) // VECTOR_LIMIT_COUNT == 2
	itemCount, result, err := Gather(q, scratch, storage, 1<<31-1, func(vecs []Vec) (int64, bool, error) {
		assert.Len(t, vecs, 2)
		return 20, false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, itemCount, "2 packed + 1 for hitLimit")
	assert.EqualValues(t, 20, result.N)

	fan, outcome := q.DidWrite(itemCount, result)
	require.Equal(t, pending.WrittenPartially, outcome)
	assert.Len(t, fan, 0, "the packed items carry no handle, so nothing is queued for delivery")
	assert.Equal(t, 1, q.Chunks())
}

func TestGatherRespectsByteLimit(t *testing.T) {
	q := pending.New()
	i1, _ := bufItem("abcde") // 5 bytes
	i2, _ := bufItem("fghij") // 5 bytes
	q.Append(i1)
	q.Append(i2)
	q.MarkFlushCheckpoint(nil)

	scratch, storage := newScratch(8)
	// Byte limit allows only the first item; the second must push hitLimit.
	itemCount, _, err := Gather(q, scratch, storage, 5, func(vecs []Vec) (int64, bool, error) {
		assert.Len(t, vecs, 1)
		return 5, false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, itemCount, "1 packed + 1 for hitLimit")
}

func TestGatherPropagatesSyscallError(t *testing.T) {
	q := pending.New()
	it, _ := bufItem("x")
	q.Append(it)
	q.MarkFlushCheckpoint(nil)

	scratch, storage := newScratch(4)
	boom := assertError("boom")
	_, _, err := Gather(q, scratch, storage, 1<<31-1, func(vecs []Vec) (int64, bool, error) {
		return 0, false, boom
	})
	assert.Equal(t, boom, err)
}

type assertError string

func (e assertError) Error() string { return string(e) }

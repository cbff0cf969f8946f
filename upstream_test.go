package fixedpool

import (
	"math"
	"testing"
	"unsafe"

	"github.com/cznic/mathutil"
	"github.com/stretchr/testify/require"
)

const upstreamQuota = 16 << 20

func asBytes(p unsafe.Pointer, n int) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

// testRoundTrip allocates random-size regions up to a byte quota, fills
// each with a reproducible random pattern, and verifies every byte
// survives until freed. This exercises mmapUpstream's page-rounding and
// warm-bucket bookkeeping under a realistic mix of sizes without pinning
// the test to any particular internal bucketing scheme.
func testRoundTrip(t *testing.T, max int) {
	var a mmapUpstream
	rem := upstreamQuota
	type region struct {
		p unsafe.Pointer
		n int
	}
	var got []region

	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	require.NoError(t, err)
	rng.Seed(42)
	pos := rng.Pos()

	for rem > 0 {
		size := rng.Next()%max + 1
		rem -= size
		p, actual, err := a.Alloc(size)
		require.NoError(t, err)
		require.GreaterOrEqual(t, actual, size)
		require.Zero(t, actual%osPageSize)

		b := asBytes(p, size)
		for i := range b {
			b[i] = byte(rng.Next())
		}
		got = append(got, region{p, size})
	}

	rng.Seek(pos)
	for _, r := range got {
		require.Equal(t, rng.Next()%max+1, r.n)
		b := asBytes(r.p, r.n)
		for i := range b {
			require.Equal(t, byte(rng.Next()), b[i])
			b[i] = 0
		}
	}

	for _, r := range got {
		a.Free(r.p)
	}
	require.Equal(t, 0, a.allocs)
}

func TestUpstreamRoundTripSmall(t *testing.T) { testRoundTrip(t, 2*osPageSize) }
func TestUpstreamRoundTripBig(t *testing.T)   { testRoundTrip(t, 8*osPageSize) }

func TestUpstreamAllocRoundsUpToPageMultiple(t *testing.T) {
	var a mmapUpstream
	p, actual, err := a.Alloc(1)
	require.NoError(t, err)
	require.Equal(t, osPageSize, actual)
	a.Free(p)

	p, actual, err = a.Alloc(osPageSize + 1)
	require.NoError(t, err)
	require.Equal(t, 2*osPageSize, actual)
	a.Free(p)
}

func TestUpstreamAllocZeroSizeIsNoop(t *testing.T) {
	var a mmapUpstream
	p, actual, err := a.Alloc(0)
	require.NoError(t, err)
	require.Nil(t, p)
	require.Zero(t, actual)

	a.Free(nil)
	require.Equal(t, 0, a.allocs)
	require.Equal(t, 0, a.mmaps)
}

func TestUpstreamAllocZero(t *testing.T) {
	var a mmapUpstream
	p, actual, err := a.AllocZero(64)
	require.NoError(t, err)
	for _, b := range asBytes(p, actual) {
		require.Zero(t, b)
	}
	a.Free(p)
}

func TestUpstreamFreeRecyclesWarmRegionOfSameBucket(t *testing.T) {
	var a mmapUpstream
	p1, actual, err := a.Alloc(256)
	require.NoError(t, err)
	require.Equal(t, 1, a.mmaps)

	a.Free(p1)
	require.Equal(t, 0, a.allocs)
	require.Equal(t, 1, a.mmaps) // kept warm, not unmapped

	p2, actual2, err := a.Alloc(256)
	require.NoError(t, err)
	require.Same(t, p1, p2)
	require.Equal(t, actual, actual2)
	require.Equal(t, 1, a.mmaps) // reused, no new OS mapping

	a.Free(p2)
}

func TestUpstreamWarmBucketCapBoundsRetainedMappings(t *testing.T) {
	var a mmapUpstream
	const n = warmPerBucket + 3
	ps := make([]unsafe.Pointer, n)
	for i := range ps {
		p, _, err := a.Alloc(64)
		require.NoError(t, err)
		ps[i] = p
	}
	require.Equal(t, n, a.mmaps)

	for _, p := range ps {
		a.Free(p)
	}
	require.Equal(t, 0, a.allocs)
	require.Equal(t, warmPerBucket, a.mmaps)
}

func TestUpstreamFreeOfUnownedPointerPanics(t *testing.T) {
	var a mmapUpstream
	foreign := make([]byte, osPageSize)
	require.Panics(t, func() { a.Free(unsafe.Pointer(&foreign[0])) })
}

func benchmarkUpstreamAlloc(b *testing.B, size int) {
	var a mmapUpstream
	ps := make([]unsafe.Pointer, 0, b.N)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p, _, err := a.Alloc(size)
		if err != nil {
			b.Fatal(err)
		}
		ps = append(ps, p)
	}
	b.StopTimer()
	for _, p := range ps {
		a.Free(p)
	}
}

func BenchmarkUpstreamAlloc32(b *testing.B) { benchmarkUpstreamAlloc(b, 32) }

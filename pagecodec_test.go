package tsdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageBuilderRoundTrip(t *testing.T) {
	b := newPageBuilder(4096, 42, TypeUint64)
	for i := uint64(0); i < 100; i++ {
		require.NoError(t, b.add(i*20, i))
	}
	require.False(t, b.empty())

	buf := make([]byte, 4096)
	b.finish(buf)

	page, err := decodeDataPage(buf, 42, TypeUint64)
	require.NoError(t, err)
	require.Len(t, page.records, 100)
	require.Equal(t, uint64(0), page.min)
	require.Equal(t, uint64(99*20), page.max)
	for i, rec := range page.records {
		require.Equal(t, uint64(i)*20, rec.ts)
		require.Equal(t, uint64(i), rec.value)
	}
}

func TestPageBuilderFullSealsAtBudget(t *testing.T) {
	b := newPageBuilder(128, 1, TypeUint64)
	count := 0
	for {
		if err := b.add(uint64(count), uint64(count)); err != nil {
			require.ErrorIs(t, err, errPageFull)
			break
		}
		count++
	}
	require.Greater(t, count, 0)
}

func TestDecodeDataPageRejectsBadMagic(t *testing.T) {
	buf := make([]byte, 512)
	_, err := decodeDataPage(buf, 1, TypeUint64)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrCorruption)
}

func TestDecodeDataPageRejectsSeriesMismatch(t *testing.T) {
	b := newPageBuilder(512, 1, TypeUint64)
	require.NoError(t, b.add(10, 1))
	buf := make([]byte, 512)
	b.finish(buf)

	_, err := decodeDataPage(buf, 2, TypeUint64)
	require.ErrorIs(t, err, ErrCorruption)
}

func TestDecodeDataPageRejectsTamperedCRC(t *testing.T) {
	b := newPageBuilder(512, 1, TypeUint64)
	require.NoError(t, b.add(10, 1))
	buf := make([]byte, 512)
	b.finish(buf)
	buf[31] ^= 0xff // a byte of the record's value, covered only by the CRC

	_, err := decodeDataPage(buf, 1, TypeUint64)
	require.ErrorIs(t, err, ErrCorruption)
}

package tsdb

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// errPageFull is returned internally by pageBuilder.add when the next
// record would overflow the page's body budget. The commit path seals the
// current page and starts a fresh builder when it sees this.
var errPageFull = errors.New("tsdb: page full")

// dataPageHeaderMax is a conservative upper bound on the fixed header
// portion of a data page (magic + series id + type + count-varint +
// min + max), used to size the body budget without knowing the final
// varint length of the record count up front.
const dataPageHeaderMax = 4 + 8 + 1 + maxVarintBytes + 8 + 8

// pageBuilder accumulates (timestamp, value) records for one series into a
// single data page, delta-encoding timestamps against the page's minimum
// the way bsm-sntable/writer.go delta-encodes keys against a block's
// MaxKey.
type pageBuilder struct {
	seriesID uint64
	typ      PageType
	pageSize int
	budget   int // remaining body bytes available for records

	min, max uint64
	count    int
	body     []byte
}

func newPageBuilder(pageSize int, seriesID uint64, typ PageType) *pageBuilder {
	return &pageBuilder{
		seriesID: seriesID,
		typ:      typ,
		pageSize: pageSize,
		budget:   pageSize - dataPageHeaderMax - crcTrailerLen,
	}
}

func (b *pageBuilder) empty() bool { return b.count == 0 }

// add appends one record, returning errPageFull if doing so would exceed
// the page's body budget. The caller must not mutate the builder further
// after errPageFull until it calls finish and starts a new builder.
func (b *pageBuilder) add(ts, value uint64) error {
	base := ts
	if b.count > 0 {
		base = b.min
	}
	delta := ts - base

	var tmp [maxVarintBytes]byte
	n := putUvarint(tmp[:], delta)
	added := n + 8

	if len(b.body)+added > b.budget {
		return errPageFull
	}

	b.body = append(b.body, tmp[:n]...)
	var valBuf [8]byte
	binary.LittleEndian.PutUint64(valBuf[:], value)
	b.body = append(b.body, valBuf[:]...)

	if b.count == 0 {
		b.min = ts
	}
	b.max = ts
	b.count++
	return nil
}

// finish encodes the sealed page into dst, which must be exactly pageSize
// bytes (and is assumed to start zeroed). It returns the number of bytes
// used before the CRC trailer, for callers that want it.
func (b *pageBuilder) finish(dst []byte) int {
	off := 0
	copy(dst[off:], dataPageMagic)
	off += 4
	binary.LittleEndian.PutUint64(dst[off:], b.seriesID)
	off += 8
	dst[off] = byte(b.typ)
	off++
	off += binary.PutUvarint(dst[off:], uint64(b.count))
	binary.LittleEndian.PutUint64(dst[off:], b.min)
	off += 8
	binary.LittleEndian.PutUint64(dst[off:], b.max)
	off += 8
	copy(dst[off:], b.body)
	off += len(b.body)

	crc := crc32.ChecksumIEEE(dst[:off])
	binary.LittleEndian.PutUint32(dst[len(dst)-crcTrailerLen:], crc)
	return off
}

// decodedPage is a fully parsed, validated data page.
type decodedPage struct {
	seriesID uint64
	typ      PageType
	min, max uint64
	records  []record
}

// decodeDataPage validates magic, expected series id and type, and the
// CRC32 trailer, then decodes every record and checks that timestamps are
// non-decreasing and bracketed by the declared min/max.
func decodeDataPage(buf []byte, expectSeriesID uint64, expectType PageType) (*decodedPage, error) {
	if len(buf) < dataPageHeaderMax+crcTrailerLen {
		return nil, newCorruptionError("data page: too small")
	}
	if string(buf[0:4]) != dataPageMagic {
		return nil, newCorruptionError("data page: bad magic")
	}

	wantCRC := binary.LittleEndian.Uint32(buf[len(buf)-crcTrailerLen:])

	off := 4
	seriesID := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	typ := PageType(buf[off])
	off++

	if seriesID != expectSeriesID {
		return nil, newCorruptionError("data page: series id mismatch")
	}
	if typ != expectType || !typ.Valid() {
		return nil, newCorruptionError("data page: type mismatch")
	}

	r := newByteReader(buf[off:])
	countU, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	off += r.pos
	count := int(countU)

	if off+16 > len(buf)-crcTrailerLen {
		return nil, newCorruptionError("data page: truncated header")
	}
	min := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	max := binary.LittleEndian.Uint64(buf[off:])
	off += 8

	records := make([]record, 0, count)
	prev := min
	for i := 0; i < count; i++ {
		r := newByteReader(buf[off:])
		delta, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		off += r.pos
		if off+8 > len(buf)-crcTrailerLen {
			return nil, newCorruptionError("data page: truncated record")
		}
		ts := min + delta
		if i > 0 && ts < prev {
			return nil, newCorruptionError("data page: decreasing timestamp")
		}
		value := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		records = append(records, record{ts: ts, value: value})
		prev = ts
	}

	if count > 0 {
		if records[0].ts != min || records[count-1].ts != max {
			return nil, newCorruptionError("data page: min/max inconsistent with stream")
		}
	}

	gotCRC := crc32.ChecksumIEEE(buf[:off])
	if gotCRC != wantCRC {
		return nil, newCorruptionError("data page: crc mismatch")
	}

	return &decodedPage{seriesID: seriesID, typ: typ, min: min, max: max, records: records}, nil
}

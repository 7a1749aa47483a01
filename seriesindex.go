package tsdb

import (
	"encoding/binary"
	"hash/crc32"
)

// seriesSnapshot is the immutable, point-in-time state of one series as
// recorded in a published index snapshot. Once built it is never mutated —
// a new commit produces an entirely new seriesSnapshot for any series it
// touches.
type seriesSnapshot struct {
	id            uint64
	typ           PageType
	metadata      string
	pages         []PageID // oldest first
	lastTimestamp uint64
	hasCommitted  bool
}

// indexSnapshot is the whole-database index as of one generation. Readers
// hold a *indexSnapshot via Database.readSnapshot (an atomic.Pointer) and
// never see a partially-updated index, matching
// josedab-chronicle/index.go's Index shape re-targeted from
// "partitions + series-within-partition" to a flat "series → page list"
// model.
type indexSnapshot struct {
	series     map[uint64]*seriesSnapshot
	freeList   []PageID
	generation uint64
}

// indexPageHeaderLen is magic(4) + next page id(8) + chunk length(4).
const indexPageHeaderLen = 4 + 8 + 4

// encodeIndexPayload serializes every series plus the free list into one
// contiguous byte stream of varints, with a varint length prefix on each
// series' metadata and on every id list, following
// josedab-chronicle/storage.go's encodeIndex shape.
func encodeIndexPayload(series map[uint64]*seriesSnapshot, freeList []PageID) []byte {
	var buf []byte
	var tmp [maxVarintBytes]byte

	putV := func(x uint64) {
		n := putUvarint(tmp[:], x)
		buf = append(buf, tmp[:n]...)
	}

	putV(uint64(len(series)))
	for _, s := range series {
		putV(s.id)
		buf = append(buf, byte(s.typ))
		putV(uint64(len(s.metadata)))
		buf = append(buf, s.metadata...)
		if s.hasCommitted {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		putV(s.lastTimestamp)
		putV(uint64(len(s.pages)))
		for _, p := range s.pages {
			putV(p)
		}
	}

	putV(uint64(len(freeList)))
	for _, p := range freeList {
		putV(p)
	}

	return buf
}

// decodeIndexPayload is the inverse of encodeIndexPayload.
func decodeIndexPayload(buf []byte) (map[uint64]*seriesSnapshot, []PageID, error) {
	r := newByteReader(buf)

	seriesCount, err := readUvarint(r)
	if err != nil {
		return nil, nil, err
	}

	series := make(map[uint64]*seriesSnapshot, seriesCount)
	for i := uint64(0); i < seriesCount; i++ {
		id, err := readUvarint(r)
		if err != nil {
			return nil, nil, err
		}
		typByte, err := r.ReadByte()
		if err != nil {
			return nil, nil, newCorruptionError("index: truncated series type")
		}
		typ := PageType(typByte)
		if !typ.Valid() {
			return nil, nil, newCorruptionError("index: invalid series type")
		}
		metaLen, err := readUvarint(r)
		if err != nil {
			return nil, nil, err
		}
		if r.pos+int(metaLen) > len(r.buf) {
			return nil, nil, newCorruptionError("index: truncated metadata")
		}
		metadata := string(r.buf[r.pos : r.pos+int(metaLen)])
		r.pos += int(metaLen)

		hasCommittedByte, err := r.ReadByte()
		if err != nil {
			return nil, nil, newCorruptionError("index: truncated commit flag")
		}
		lastTS, err := readUvarint(r)
		if err != nil {
			return nil, nil, err
		}
		pageCount, err := readUvarint(r)
		if err != nil {
			return nil, nil, err
		}
		pages := make([]PageID, 0, pageCount)
		for j := uint64(0); j < pageCount; j++ {
			p, err := readUvarint(r)
			if err != nil {
				return nil, nil, err
			}
			pages = append(pages, p)
		}

		series[id] = &seriesSnapshot{
			id:            id,
			typ:           typ,
			metadata:      metadata,
			pages:         pages,
			lastTimestamp: lastTS,
			hasCommitted:  hasCommittedByte != 0,
		}
	}

	freeCount, err := readUvarint(r)
	if err != nil {
		return nil, nil, err
	}
	freeList := make([]PageID, 0, freeCount)
	for i := uint64(0); i < freeCount; i++ {
		p, err := readUvarint(r)
		if err != nil {
			return nil, nil, err
		}
		freeList = append(freeList, p)
	}

	return series, freeList, nil
}

// encodeIndexPages chunks the encoded index payload across as many pages as
// needed, chained by a next-page-id field the way a B+Tree's overflow pages
// chain, per 7thCode-BPTree/pkg/bptree2/bpager's linked-page convention.
// It allocates fresh pages for the whole chain (no reuse of the prior
// chain's pages — those are left for a future compaction feature to
// reclaim) and returns the head page id plus the encoded buffer for every
// page in the chain.
func encodeIndexPages(store *pageStore, series map[uint64]*seriesSnapshot, freeList []PageID) (PageID, map[PageID][]byte, error) {
	payload := encodeIndexPayload(series, freeList)

	chunkCapacity := store.pageSize - indexPageHeaderLen - crcTrailerLen
	if chunkCapacity <= 0 {
		return 0, nil, newCorruptionError("index: page size too small for index header")
	}

	var chunks [][]byte
	for off := 0; off < len(payload) || len(chunks) == 0; off += chunkCapacity {
		end := off + chunkCapacity
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[off:end])
		if end == len(payload) {
			break
		}
	}

	ids := make([]PageID, len(chunks))
	for i := range chunks {
		id, err := store.allocatePage()
		if err != nil {
			return 0, nil, err
		}
		ids[i] = id
	}

	bufs := make(map[PageID][]byte, len(chunks))
	for i, chunk := range chunks {
		buf := store.newPageBuf()
		copy(buf[0:4], indexPageMagic)
		next := PageID(0)
		if i+1 < len(ids) {
			next = ids[i+1]
		}
		binary.LittleEndian.PutUint64(buf[4:], next)
		binary.LittleEndian.PutUint32(buf[12:], uint32(len(chunk)))
		copy(buf[indexPageHeaderLen:], chunk)
		crc := crc32.ChecksumIEEE(buf[:len(buf)-crcTrailerLen])
		binary.LittleEndian.PutUint32(buf[len(buf)-crcTrailerLen:], crc)
		bufs[ids[i]] = buf
	}

	return ids[0], bufs, nil
}

// loadIndex walks the index page chain starting at head, validating every
// page's magic and CRC before concatenating and decoding the payload.
// head == 0 denotes an empty (never-committed) index.
func loadIndex(store *pageStore, head PageID) (map[uint64]*seriesSnapshot, []PageID, error) {
	if head == 0 {
		return map[uint64]*seriesSnapshot{}, nil, nil
	}

	var payload []byte
	id := head
	seen := map[PageID]bool{}
	for id != 0 {
		if seen[id] {
			return nil, nil, newCorruptionError("index: cyclic page chain")
		}
		seen[id] = true

		buf := store.newPageBuf()
		if err := store.readPage(id, buf); err != nil {
			return nil, nil, err
		}
		if string(buf[0:4]) != indexPageMagic {
			return nil, nil, newCorruptionError("index page: bad magic")
		}
		wantCRC := binary.LittleEndian.Uint32(buf[len(buf)-crcTrailerLen:])
		gotCRC := crc32.ChecksumIEEE(buf[:len(buf)-crcTrailerLen])
		if wantCRC != gotCRC {
			return nil, nil, newCorruptionError("index page: crc mismatch")
		}

		next := binary.LittleEndian.Uint64(buf[4:])
		chunkLen := binary.LittleEndian.Uint32(buf[12:])
		if indexPageHeaderLen+int(chunkLen) > len(buf)-crcTrailerLen {
			return nil, nil, newCorruptionError("index page: chunk length out of range")
		}
		payload = append(payload, buf[indexPageHeaderLen:indexPageHeaderLen+int(chunkLen)]...)
		id = next
	}

	return decodeIndexPayload(payload)
}

package tsdb

import (
	"encoding/binary"
	"hash/crc32"
)

// rootSlot is one of the superblock's two alternating index-root pointers.
type rootSlot struct {
	pageID     PageID
	generation uint64
}

// superblock is the decoded form of the database file's first page.
// Exactly one of the two slots is "active" at a time; commit always writes
// the new root into the currently inactive slot and fsyncs before flipping
// which one is preferred.
type superblock struct {
	pageSize uint16 // log2, as stored on disk
	roots    [2]rootSlot
}

// encode serializes sb into buf, which must be at least pageSize bytes; the
// remainder beyond sbHeaderLen is left zeroed by the caller allocating buf.
func (sb *superblock) encode(buf []byte) {
	copy(buf[sbMagicOff:], superblockMagic)
	binary.LittleEndian.PutUint16(buf[sbVersionOff:], superblockVersion)
	binary.LittleEndian.PutUint16(buf[sbPageLogOff:], sb.pageSize)
	for i := sbReservedOff; i < sbRoot0IDOff; i++ {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[sbRoot0IDOff:], sb.roots[0].pageID)
	binary.LittleEndian.PutUint64(buf[sbRoot0GenOff:], sb.roots[0].generation)
	binary.LittleEndian.PutUint64(buf[sbRoot1IDOff:], sb.roots[1].pageID)
	binary.LittleEndian.PutUint64(buf[sbRoot1GenOff:], sb.roots[1].generation)
	crc := crc32.ChecksumIEEE(buf[:sbCRCOff])
	binary.LittleEndian.PutUint32(buf[sbCRCOff:], crc)
}

// decodeSuperblock validates the magic, version, and CRC before returning
// the decoded header. buf only needs to cover the first sbHeaderLen bytes.
func decodeSuperblock(buf []byte) (*superblock, error) {
	if len(buf) < sbHeaderLen {
		return nil, newCorruptionError("superblock: short read")
	}
	if string(buf[sbMagicOff:sbMagicOff+4]) != superblockMagic {
		return nil, newCorruptionError("superblock: bad magic")
	}
	version := binary.LittleEndian.Uint16(buf[sbVersionOff:])
	if version != superblockVersion {
		return nil, newCorruptionError("superblock: unsupported version")
	}
	wantCRC := binary.LittleEndian.Uint32(buf[sbCRCOff:])
	gotCRC := crc32.ChecksumIEEE(buf[:sbCRCOff])
	if wantCRC != gotCRC {
		return nil, newCorruptionError("superblock: crc mismatch")
	}

	sb := &superblock{pageSize: binary.LittleEndian.Uint16(buf[sbPageLogOff:])}
	sb.roots[0] = rootSlot{
		pageID:     binary.LittleEndian.Uint64(buf[sbRoot0IDOff:]),
		generation: binary.LittleEndian.Uint64(buf[sbRoot0GenOff:]),
	}
	sb.roots[1] = rootSlot{
		pageID:     binary.LittleEndian.Uint64(buf[sbRoot1IDOff:]),
		generation: binary.LittleEndian.Uint64(buf[sbRoot1GenOff:]),
	}
	return sb, nil
}

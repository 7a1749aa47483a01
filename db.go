package tsdb

import (
	"log"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// lockHeartbeatInterval is how often a held advisory lock is re-asserted
// in the background, the way josedab-chronicle/wal.go's syncLoop re-runs
// its own fsync on a ticker.
const lockHeartbeatInterval = 30 * time.Second

// seriesState is the mutable, writer-side view of one series, held in
// Database.current and guarded by Database.writeMu. It is the write-side
// counterpart to the immutable seriesSnapshot published to readers, mirroring
// josedab-chronicle/buffer.go's WriteBuffer paired with a published Index.
type seriesState struct {
	id            uint64
	typ           PageType
	metadata      string
	pages         []PageID // committed pages, oldest first
	lastTimestamp uint64
	hasCommitted  bool
	pending       []record // not yet committed
}

func (s *seriesState) dirty() bool { return len(s.pending) > 0 }

// Database is a handle to one open time-series database file. The zero
// value is not usable; construct one with CreateDatabase or OpenDatabase.
type Database struct {
	path     string
	file     *os.File
	pageSize int
	store    *pageStore

	writeMu sync.Mutex
	current map[uint64]*seriesState

	readSnapshot atomic.Pointer[indexSnapshot]

	activeSlot int // which of sb.roots is currently preferred
	generation uint64
	sb         *superblock

	locked          bool
	opts            *Options
	heartbeatStop   chan struct{}
	heartbeatErrors int

	closeMu sync.Mutex
	closed  bool
}

// CreateDatabase creates a new database file at path, failing with
// ErrAlreadyExists if it is already present. The fresh file starts with
// an empty index and both superblock root slots pointing at page 0 (no
// index committed yet).
func CreateDatabase(path string, opts ...Option) (*Database, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if !isPowerOfTwo(o.PageSize) || o.PageSize < MinPageSize {
		return nil, newCorruptionError("page size must be a power of two >= MinPageSize")
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyExists
		}
		return nil, newIOError("create", path, err)
	}

	if err := file.Truncate(int64(o.PageSize)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, newIOError("truncate", path, err)
	}

	store, err := openPageStore(file, path, o.PageSize)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	sb := &superblock{pageSize: log2(o.PageSize)}
	buf := store.newPageBuf()
	sb.encode(buf)
	if err := store.writePage(superblockPageID, buf); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	if o.Fsync {
		if err := store.fsync(); err != nil {
			file.Close()
			os.Remove(path)
			return nil, err
		}
	}

	db := &Database{
		path:       path,
		file:       file,
		pageSize:   o.PageSize,
		store:      store,
		current:    map[uint64]*seriesState{},
		activeSlot: 0,
		generation: 0,
		sb:         sb,
		opts:       o,
	}
	db.readSnapshot.Store(&indexSnapshot{series: map[uint64]*seriesSnapshot{}, generation: 0})

	if o.Lock {
		if err := db.acquireLock(); err != nil {
			file.Close()
			os.Remove(path)
			return nil, err
		}
		db.locked = true
		db.startLockHeartbeat()
	}

	return db, nil
}

// OpenDatabase opens an existing database file, validating the superblock
// and loading whichever root slot has the newer generation and a valid
// checksum, falling back to the other slot if that one fails to decode.
func OpenDatabase(path string, opts ...Option) (*Database, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newIOError("open", path, err)
		}
		return nil, newIOError("open", path, err)
	}

	headerBuf := make([]byte, sbHeaderLen)
	if _, err := file.ReadAt(headerBuf, 0); err != nil {
		file.Close()
		return nil, newCorruptionError("superblock: short read")
	}
	sb, err := decodeSuperblock(headerBuf)
	if err != nil {
		file.Close()
		return nil, err
	}
	pageSize := 1 << sb.pageSize

	store, err := openPageStore(file, path, pageSize)
	if err != nil {
		file.Close()
		return nil, err
	}

	activeSlot, series, freeList, err := recoverIndex(store, sb)
	if err != nil {
		file.Close()
		return nil, err
	}

	db := &Database{
		path:       path,
		file:       file,
		pageSize:   pageSize,
		store:      store,
		current:    map[uint64]*seriesState{},
		activeSlot: activeSlot,
		generation: sb.roots[activeSlot].generation,
		sb:         sb,
		opts:       o,
	}
	for id, snap := range series {
		db.current[id] = &seriesState{
			id:            snap.id,
			typ:           snap.typ,
			metadata:      snap.metadata,
			pages:         append([]PageID(nil), snap.pages...),
			lastTimestamp: snap.lastTimestamp,
			hasCommitted:  snap.hasCommitted,
		}
	}
	db.readSnapshot.Store(&indexSnapshot{series: series, freeList: freeList, generation: db.generation})

	if o.Lock {
		if err := db.acquireLock(); err != nil {
			file.Close()
			return nil, err
		}
		db.locked = true
		db.startLockHeartbeat()
	}

	return db, nil
}

// startLockHeartbeat periodically re-asserts the advisory lock in the
// background and logs through the standard log package if that ever
// fails — an early warning that something outside this handle has
// violated the single-writer-process contract, the way
// josedab-chronicle/wal.go's syncLoop logs a sync failure instead of
// silently swallowing it.
func (db *Database) startLockHeartbeat() {
	db.heartbeatStop = make(chan struct{})
	go db.lockHeartbeatLoop(db.heartbeatStop)
}

func (db *Database) lockHeartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(lockHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := db.checkLock(); err != nil {
				db.heartbeatErrors++
				log.Printf("gotsdb: advisory lock check failed (count=%d): %v", db.heartbeatErrors, err)
			} else {
				db.heartbeatErrors = 0
			}
		}
	}
}

// recoverIndex picks the root slot with the newer generation whose chain
// decodes and validates, falling back to the other slot — a commit that
// crashed between writing the two superblock slots can leave the newer
// one unreadable while the prior commit's slot is still intact.
func recoverIndex(store *pageStore, sb *superblock) (int, map[uint64]*seriesSnapshot, []PageID, error) {
	order := []int{0, 1}
	if sb.roots[1].generation > sb.roots[0].generation {
		order = []int{1, 0}
	}

	var lastErr error
	for _, slot := range order {
		series, freeList, err := loadIndex(store, sb.roots[slot].pageID)
		if err == nil {
			return slot, series, freeList, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = newCorruptionError("index: no valid root slot")
	}
	return 0, nil, nil, lastErr
}

// CreateSeries registers a new series with the given id, record type, and
// opaque metadata. It fails with ErrAlreadyExists if the id is already
// registered. Series are never deleted once created.
func (db *Database) CreateSeries(id uint64, typ PageType, metadata []byte) error {
	if !typ.Valid() {
		return newCorruptionError("createSeries: invalid type tag")
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.closed {
		return ErrClosed
	}
	if _, exists := db.current[id]; exists {
		return ErrAlreadyExists
	}
	db.current[id] = &seriesState{
		id:       id,
		typ:      typ,
		metadata: string(metadata),
	}
	return nil
}

// insert is the shared implementation backing InsertUInt64/InsertInt64/
// InsertFloat64: it validates the series exists and matches typ, enforces
// the monotonic-append contract against both committed and buffered state,
// and appends to the pending buffer.
func (db *Database) insert(id uint64, typ PageType, ts, bits uint64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.closed {
		return ErrClosed
	}
	s, ok := db.current[id]
	if !ok {
		return ErrUnknownSeries
	}
	if s.typ != typ {
		return ErrTypeMismatch
	}

	lastTS := s.lastTimestamp
	hasPrior := s.hasCommitted
	if n := len(s.pending); n > 0 {
		lastTS = s.pending[n-1].ts
		hasPrior = true
	}
	if hasPrior && ts < lastTS {
		return ErrOutOfOrder
	}

	s.pending = append(s.pending, record{ts: ts, value: bits})
	return nil
}

// InsertUInt64 appends an unsigned-integer record to series id.
func (db *Database) InsertUInt64(id uint64, ts uint64, v uint64) error {
	return db.insert(id, TypeUint64, ts, v)
}

// InsertInt64 appends a signed-integer record to series id.
func (db *Database) InsertInt64(id uint64, ts uint64, v int64) error {
	return db.insert(id, TypeInt64, ts, uint64(v))
}

// InsertFloat64 appends a floating-point record to series id.
func (db *Database) InsertFloat64(id uint64, ts uint64, v float64) error {
	return db.insert(id, TypeFloat64, ts, math.Float64bits(v))
}

// GetCursor opens a cursor over series id positioned at its first record.
// typeHint must match the series' actual type. The cursor observes the
// database's committed state as of this call and is unaffected by any
// commits that happen later.
func (db *Database) GetCursor(id uint64, typeHint PageType) (*Cursor, error) {
	snap := db.readSnapshot.Load()
	s, ok := snap.series[id]
	if !ok {
		return nil, ErrUnknownSeries
	}
	if s.typ != typeHint {
		return nil, ErrTypeMismatch
	}
	return newCursor(db.store, s), nil
}

// Stats reports a point-in-time snapshot of database-wide counters.
func (db *Database) Stats() Stats {
	snap := db.readSnapshot.Load()
	return Stats{
		SeriesCount:    len(snap.series),
		PageCount:      db.store.nextPageID,
		Generation:     snap.generation,
		FreeListLength: len(snap.freeList),
	}
}

// Close releases the advisory lock (if held) and closes the underlying
// file. It does not implicitly commit pending inserts.
func (db *Database) Close() error {
	db.closeMu.Lock()
	defer db.closeMu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if db.locked {
		close(db.heartbeatStop)
		db.releaseLock()
	}
	if err := db.file.Close(); err != nil {
		return newIOError("close", db.path, err)
	}
	return nil
}

package tsdb

// packSeries drains pending into freshly allocated data pages via the page
// codec, sealing a page and starting a new one whenever pageBuilder.add
// returns errPageFull. It never appends to an existing tail page — always
// allocating fresh pages keeps the commit path simple and leaves readers
// unaffected, at the cost of some trailing space in the previous tail page.
func packSeries(store *pageStore, s *seriesState) ([]PageID, map[PageID][]byte, error) {
	if len(s.pending) == 0 {
		return nil, nil, nil
	}

	var newPages []PageID
	bufs := map[PageID][]byte{}

	b := newPageBuilder(store.pageSize, s.id, s.typ)
	i := 0
	for i < len(s.pending) {
		rec := s.pending[i]
		if err := b.add(rec.ts, rec.value); err != nil {
			if b.empty() {
				return nil, nil, newCorruptionError("commit: single record exceeds page body budget")
			}
			id, sealErr := sealPage(store, b, bufs)
			if sealErr != nil {
				return nil, nil, sealErr
			}
			newPages = append(newPages, id)
			b = newPageBuilder(store.pageSize, s.id, s.typ)
			continue
		}
		i++
	}
	if !b.empty() {
		id, err := sealPage(store, b, bufs)
		if err != nil {
			return nil, nil, err
		}
		newPages = append(newPages, id)
	}

	return newPages, bufs, nil
}

func sealPage(store *pageStore, b *pageBuilder, bufs map[PageID][]byte) (PageID, error) {
	id, err := store.allocatePage()
	if err != nil {
		return 0, err
	}
	buf := store.newPageBuf()
	b.finish(buf)
	bufs[id] = buf
	return id, nil
}

// Commit is the sole durability point: pack dirty series into fresh data
// pages, write data pages then index pages with one fsync, write the new
// root into the inactive superblock slot with a second fsync, then flip
// the active slot and publish a new immutable indexSnapshot. Grounded on
// josedab-chronicle/db_write.go's flush ordering. Splitting the fsyncs
// this way means a crash can only ever strand the database at the prior
// commit or the new one, never a mix of the two.
func (db *Database) Commit() error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.closed {
		return ErrClosed
	}

	// A series created since the last commit is published even if it has
	// no records yet.
	prevSnap := db.readSnapshot.Load()
	anyDirty := false
	for id, s := range db.current {
		if _, published := prevSnap.series[id]; s.dirty() || !published {
			anyDirty = true
			break
		}
	}
	if !anyDirty {
		return nil
	}

	dataBufs := map[PageID][]byte{}
	nextSeries := make(map[uint64]*seriesSnapshot, len(db.current))

	for id, s := range db.current {
		newPages, bufs, err := packSeries(db.store, s)
		if err != nil {
			return err
		}
		for pid, buf := range bufs {
			dataBufs[pid] = buf
		}

		pages := s.pages
		lastTS := s.lastTimestamp
		hasCommitted := s.hasCommitted
		if len(newPages) > 0 {
			pages = append(append([]PageID(nil), s.pages...), newPages...)
			lastTS = s.pending[len(s.pending)-1].ts
			hasCommitted = true
		}

		nextSeries[id] = &seriesSnapshot{
			id:            s.id,
			typ:           s.typ,
			metadata:      s.metadata,
			pages:         pages,
			lastTimestamp: lastTS,
			hasCommitted:  hasCommitted,
		}
	}

	freeList := append([]PageID(nil), prevSnap.freeList...)

	indexHead, indexBufs, err := encodeIndexPages(db.store, nextSeries, freeList)
	if err != nil {
		return err
	}

	for pid, buf := range dataBufs {
		if err := db.store.writePage(pid, buf); err != nil {
			return err
		}
	}
	for pid, buf := range indexBufs {
		if err := db.store.writePage(pid, buf); err != nil {
			return err
		}
	}
	if db.opts.Fsync {
		if err := db.store.fsync(); err != nil {
			return err
		}
	}

	inactive := 1 - db.activeSlot
	newGeneration := db.generation + 1
	db.sb.roots[inactive] = rootSlot{pageID: indexHead, generation: newGeneration}

	sbBuf := db.store.newPageBuf()
	db.sb.encode(sbBuf)
	if err := db.store.writePage(superblockPageID, sbBuf); err != nil {
		return err
	}
	if db.opts.Fsync {
		if err := db.store.fsync(); err != nil {
			return err
		}
	}

	db.activeSlot = inactive
	db.generation = newGeneration

	for id, s := range db.current {
		if s.dirty() {
			next := nextSeries[id]
			s.pages = next.pages
			s.lastTimestamp = next.lastTimestamp
			s.hasCommitted = next.hasCommitted
			s.pending = nil
		}
	}

	db.readSnapshot.Store(&indexSnapshot{series: nextSeries, freeList: freeList, generation: newGeneration})
	return nil
}

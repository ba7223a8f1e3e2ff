package mvmap

import "runtime"
import "sync/atomic"


//============================================= MVStore Compact


// Compact rewrites the live version of every map onto fresh pages and resets the
//	backing file, dropping the dead page history accumulated by append-only commits.
//	Old versions stop being reachable for snapshots and rollback afterwards.
func (mvStore *MVStore) Compact() error {
	if ! mvStore.isPersistent() { return nil }

	mvStore.commitLock.Lock()
	defer mvStore.commitLock.Unlock()

	if ! mvStore.opened { return ErrStoreClosed }

	// pull every committed-but-unopened map in so its data survives the file reset
	for _, name := range mvStore.recoveredNames() {
		_, openErr := mvStore.OpenMap(name, nil)
		if openErr != nil { return openErr }
	}

	maps := mvStore.openMaps()

	for _, mvMap := range maps {
		ref, flushErr := mvMap.flushAndGetRoot()
		if flushErr != nil { return flushErr }

		_, rewriteErr := mvMap.rewritePage(ref.root)
		if rewriteErr != nil { return rewriteErr }

		// rewriting replaces every page on a non-empty map; a saved root left
		// behind means the map is empty and gets a fresh leaf instead
		mvStore.refreshSavedRoot(mvMap)
	}

	resetErr := mvStore.resetFile()
	if resetErr != nil { return resetErr }

	atomic.StoreInt64(&mvStore.freedMemory, 0)

	return mvStore.persistVersion(atomic.LoadUint64(&mvStore.currentVersion), maps)
}

// recoveredNames snapshots the names still pending in the recovered directory.
func (mvStore *MVStore) recoveredNames() []string {
	mvStore.mapsLock.RLock()
	defer mvStore.mapsLock.RUnlock()

	names := make([]string, 0, len(mvStore.recovered))
	for name := range mvStore.recovered {
		names = append(names, name)
	}

	return names
}

// refreshSavedRoot swaps a still-saved root page for a fresh unsaved leaf under the lock.
func (mvStore *MVStore) refreshSavedRoot(mvMap *MVMap) {
	if mvMap.loadRoot().root.pos == 0 { return }

	ownerId := nextOwnerId()
	locked := mvMap.lockRoot(ownerId)

	if locked.root.pos != 0 {
		mvMap.unlockAndUpdate(locked, newLeafPage(mvMap.id, nil, nil), locked.appendCounter, 1)
	} else { mvMap.unlockRoot(locked) }
}

// resetFile
//	Unmaps, truncates the backing file back to its initial allocation and remaps it with a
//	fresh metadata region. Page reads are fenced out for the duration.
func (mvStore *MVStore) resetFile() error {
	for ! atomic.CompareAndSwapUint32(&mvStore.isResizing, 0, 1) { runtime.Gosched() }
	defer atomic.StoreUint32(&mvStore.isResizing, 0)

	mvStore.rwResizeLock.Lock()
	defer mvStore.rwResizeLock.Unlock()

	unmapErr := mvStore.munmap()
	if unmapErr != nil { return unmapErr }

	truncateErr := mvStore.file.Truncate(int64(DefaultPageSize) * 16 * 1000)
	if truncateErr != nil { return truncateErr }

	mmapErr := mvStore.mMap()
	if mmapErr != nil { return mmapErr }

	meta := &MVStoreMetaData{
		version: atomic.LoadUint64(&mvStore.currentVersion),
		directoryOffset: 0,
		nextStartOffset: InitStartOffset,
	}

	_, writeErr := mvStore.writeMetaToMemMap(meta.serializeMetaData())
	if writeErr != nil { return writeErr }

	return nil
}

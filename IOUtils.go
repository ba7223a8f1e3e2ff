package mvmap

import "errors"
import "sync/atomic"

import "github.com/sirgallo/mvmap/common/mmap"


//============================================= MVStore IO Utils


// FileSize
//	Determine the backing file size.
func (mvStore *MVStore) FileSize() (int, error) {
	stat, statErr := mvStore.file.Stat()
	if statErr != nil { return 0, statErr }

	return int(stat.Size()), nil
}

// mMap
//	Helper to memory map the backing file into the buffer.
func (mvStore *MVStore) mMap() error {
	mapped, mmapErr := mmap.Map(mvStore.file, mmap.RDWR)
	if mmapErr != nil { return mmapErr }

	mvStore.data.Store(mapped)
	return nil
}

// munmap
//	Unmaps the memory map from RAM.
func (mvStore *MVStore) munmap() error {
	mMap := mvStore.data.Load().(mmap.MMap)
	if len(mMap) == 0 { return nil }

	unmapErr := mMap.Unmap()
	if unmapErr != nil { return unmapErr }

	mvStore.data.Store(mmap.MMap{})
	return nil
}

// resizeMmap
//	Grows the backing file to hold at least minSize bytes and remaps it.
//	The first allocation is 64MB, then the map doubles per resize up to a 1GB growth step.
//	Page reads are fenced out through the resize lock for the duration.
func (mvStore *MVStore) resizeMmap(minSize int64) (bool, error) {
	if ! atomic.CompareAndSwapUint32(&mvStore.isResizing, 0, 1) { return false, nil }
	defer atomic.StoreUint32(&mvStore.isResizing, 0)

	mvStore.rwResizeLock.Lock()
	defer mvStore.rwResizeLock.Unlock()

	mMap := mvStore.data.Load().(mmap.MMap)

	allocateSize := func() int64 {
		switch {
			case len(mMap) == 0:
				return int64(DefaultPageSize) * 16 * 1000 // 64MB
			case len(mMap) >= MaxResize:
				return int64(len(mMap) + MaxResize)
			default:
				return int64(len(mMap) * 2)
		}
	}()

	for allocateSize < minSize { allocateSize *= 2 }

	if len(mMap) > 0 {
		flushErr := mvStore.file.Sync()
		if flushErr != nil { return false, flushErr }

		unmapErr := mvStore.munmap()
		if unmapErr != nil { return false, unmapErr }
	}

	truncateErr := mvStore.file.Truncate(allocateSize)
	if truncateErr != nil { return false, truncateErr }

	mmapErr := mvStore.mMap()
	if mmapErr != nil { return false, mmapErr }

	return true, nil
}

// ensureCapacity
//	Resize the memory map when the next write would run past its end.
func (mvStore *MVStore) ensureCapacity(endOffset uint64) error {
	mMap := mvStore.data.Load().(mmap.MMap)
	if int64(endOffset) <= int64(len(mMap)) { return nil }

	ok, resizeErr := mvStore.resizeMmap(int64(endOffset))
	if resizeErr != nil { return resizeErr }
	if ! ok { return errors.New("unable to acquire the resize flag while growing the mmap") }

	return nil
}

// writeRegionToMemMap
//	Copy a serialized region into the memory map at the given offset.
func (mvStore *MVStore) writeRegionToMemMap(region []byte, offset uint64) (ok bool, err error) {
	defer func() {
		r := recover()
		if r != nil {
			ok = false
			err = errors.New("error writing region to mmap")
		}
	}()

	mMap := mvStore.data.Load().(mmap.MMap)
	copy(mMap[offset:offset + uint64(len(region))], region)

	return true, nil
}

// handleFlush
//	This is "optimistic" flushing.
//	A separate go routine is signalled after commits to sync changes in the mmap to disk.
func (mvStore *MVStore) handleFlush() {
	for range mvStore.signalFlushChan {
		func() {
			mvStore.rwResizeLock.RLock()
			defer mvStore.rwResizeLock.RUnlock()

			flushErr := mvStore.file.Sync()
			if flushErr != nil { cLog.Error("error flushing to disk:", flushErr.Error()) }
		}()
	}
}

// signalFlush
//	Called after commits to "optimistically" hand flushing off to the background go routine.
func (mvStore *MVStore) signalFlush() {
	select {
		case mvStore.signalFlushChan <- true:
		default:
	}
}

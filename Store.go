package mvmap

import "encoding/binary"
import "errors"
import "fmt"
import "os"
import "path/filepath"
import "runtime"
import "sync/atomic"

import "github.com/sirgallo/logger"
import "github.com/sirgallo/utils"

import "github.com/sirgallo/mvmap/common/mmap"


var cLog = logger.NewCustomLog("MVStore")


//============================================= MVStore


// Open initializes an MVStore.
//	With a Filepath the backing file is created or read in, the metadata region initialized,
//	and the map directory of the last committed version recovered. Without one the store runs
//	purely in memory and commits only advance versions.
func Open(opts MVStoreOpts) (*MVStore, error) {
	mvStore := &MVStore{
		opened: true,
		signalFlushChan: make(chan bool),
		maps: make(map[string]*MVMap),
		mapsById: make(map[uint32]*MVMap),
		versionUsage: make(map[uint64]uint64),
		recovered: make(map[string]mapDirectoryEntry),
		keysPerPage: DefaultKeysPerPage,
		maxPageSize: DefaultMaxPageSize,
		versionsToKeep: DefaultVersionsToKeep,
		autoCommitMemory: DefaultAutoCommitMemory,
	}

	if opts.KeysPerPage != nil { mvStore.keysPerPage = *opts.KeysPerPage }
	if opts.MaxPageSize != nil { mvStore.maxPageSize = *opts.MaxPageSize }
	if opts.VersionsToKeep != nil { mvStore.versionsToKeep = *opts.VersionsToKeep }
	if opts.AutoCommitMemory != nil { mvStore.autoCommitMemory = *opts.AutoCommitMemory }

	poolSize := DefaultPagePoolSize
	if opts.PagePoolSize != nil { poolSize = *opts.PagePoolSize }
	mvStore.pagePool = newMVPagePool(poolSize)

	if mvStore.keysPerPage < 2 { return nil, errors.New("keys per page must be at least 2") }

	if opts.Filepath == "" { return mvStore, nil }

	fileName := opts.FileName
	if fileName == "" { fileName = "mvmap.db" }

	mvStore.filepath = opts.Filepath
	fileWithFilePath := filepath.Join(opts.Filepath, fileName)

	flag := os.O_RDWR | os.O_CREATE
	var openFileErr error

	mvStore.file, openFileErr = os.OpenFile(fileWithFilePath, flag, 0600)
	if openFileErr != nil { return nil, openFileErr }

	atomic.StoreUint32(&mvStore.isResizing, 0)
	mvStore.data.Store(mmap.MMap{})

	initFileErr := mvStore.initializeFile()
	if initFileErr != nil { return nil, initFileErr }

	go mvStore.handleFlush()

	return mvStore, nil
}

// initializeFile
//	Initialize the memory mapped file that persists the store.
//	A zero length file gets its initial allocation and a fresh metadata region.
//	Otherwise the existing file is mapped and the committed map directory recovered.
func (mvStore *MVStore) initializeFile() error {
	fSize, fSizeErr := mvStore.FileSize()
	if fSizeErr != nil { return fSizeErr }

	switch {
		case fSize == 0:
			cLog.Info("initializing backing file for the first time.")

			_, resizeErr := mvStore.resizeMmap(0)
			if resizeErr != nil { return resizeErr }

			meta := &MVStoreMetaData{ version: 0, directoryOffset: 0, nextStartOffset: InitStartOffset }
			_, writeErr := mvStore.writeMetaToMemMap(meta.serializeMetaData())
			if writeErr != nil { return writeErr }
		default:
			cLog.Info("backing file already initialized, memory mapping.")

			mmapErr := mvStore.mMap()
			if mmapErr != nil { return mmapErr }

			recoverErr := mvStore.recoverDirectory()
			if recoverErr != nil { return recoverErr }
	}

	return nil
}

// recoverDirectory
//	Reads the metadata and the committed map directory back in after a reopen.
//	Entries are consumed lazily as maps are reopened by name.
func (mvStore *MVStore) recoverDirectory() error {
	meta, metaErr := mvStore.readMetaFromMemMap()
	if metaErr != nil { return metaErr }

	atomic.StoreUint64(&mvStore.currentVersion, meta.version)
	mvStore.updateOldestVersionToKeep()

	if meta.directoryOffset == 0 { return nil }

	mMap := mvStore.data.Load().(mmap.MMap)
	if meta.directoryOffset >= uint64(len(mMap)) { return errors.New("directory offset out of bounds") }

	entries, dirErr := deserializeDirectory(mMap[meta.directoryOffset:])
	if dirErr != nil { return dirErr }

	for _, entry := range entries {
		mvStore.recovered[entry.name] = entry
		if entry.id > mvStore.lastMapId { mvStore.lastMapId = entry.id }
	}

	return nil
}

// OpenMap opens or creates the named map.
//	Reopening a name returns the registered instance. On a persistent store a name found in
//	the recovered directory binds to its committed root; anything else starts empty.
func (mvStore *MVStore) OpenMap(name string, opts *MVMapOpts) (*MVMap, error) {
	if ! mvStore.opened { return nil, ErrStoreClosed }

	mvStore.mapsLock.Lock()
	defer mvStore.mapsLock.Unlock()

	existing, ok := mvStore.maps[name]
	if ok { return existing, nil }

	mapOpts := &MVMapOpts{}
	if opts != nil { *mapOpts = *opts }

	var root *MVPage
	id := atomic.AddUint32(&mvStore.lastMapId, 1)
	createVersion := atomic.LoadUint64(&mvStore.currentVersion)
	rootVersion := createVersion

	entry, wasRecovered := mvStore.recovered[name]
	if wasRecovered {
		savedRoot, readErr := mvStore.readPageAt(entry.rootPos)
		if readErr != nil { return nil, readErr }

		root = savedRoot
		id = entry.id
		createVersion = entry.createVersion
		mapOpts.SingleWriter = entry.singleWriter

		delete(mvStore.recovered, name)
	} else { root = newLeafPage(id, nil, nil) }

	mvMap, newMapErr := newMVMap(mvStore, name, id, createVersion, rootVersion, root, mapOpts)
	if newMapErr != nil { return nil, newMapErr }

	mvStore.maps[name] = mvMap
	mvStore.mapsById[id] = mvMap

	return mvMap, nil
}

// getMapName resolves a map id back to its name, empty when unknown.
func (mvStore *MVStore) getMapName(id uint32) string {
	mvStore.mapsLock.RLock()
	defer mvStore.mapsLock.RUnlock()

	mvMap, ok := mvStore.mapsById[id]
	if ! ok { return "" }

	return mvMap.name
}

// deregisterMapRoot drops a closed map from the registries once its data aged out.
func (mvStore *MVStore) deregisterMapRoot(id uint32) {
	mvStore.mapsLock.Lock()
	defer mvStore.mapsLock.Unlock()

	mvMap, ok := mvStore.mapsById[id]
	if ! ok { return }

	delete(mvStore.maps, mvMap.name)
	delete(mvStore.mapsById, id)
}

// openMaps snapshots the registered maps for commit-time iteration.
func (mvStore *MVStore) openMaps() []*MVMap {
	mvStore.mapsLock.RLock()
	defer mvStore.mapsLock.RUnlock()

	maps := make([]*MVMap, 0, len(mvStore.maps))
	for _, mvMap := range mvStore.maps {
		maps = append(maps, mvMap)
	}

	return maps
}

// beforeWrite is the hook invoked before every mutating map operation.
//	Fails fast on closed stores, closed maps and read-only snapshots, and triggers a
//	commit when the unsaved memory estimate has run past the auto commit threshold.
func (mvStore *MVStore) beforeWrite(mvMap *MVMap) error {
	if ! mvStore.opened { return ErrStoreClosed }
	if mvMap.IsClosed() { return fmt.Errorf("map %s: %w", mvMap.name, ErrMapClosed) }
	if mvMap.readOnly { return fmt.Errorf("map %s: %w", mvMap.name, ErrReadOnly) }

	if mvStore.isSaveNeeded() { mvStore.tryCommit() }
	return nil
}

// isSaveNeeded reports whether unsaved memory has outgrown the auto commit threshold.
func (mvStore *MVStore) isSaveNeeded() bool {
	return atomic.LoadInt64(&mvStore.unsavedMemory) > mvStore.autoCommitMemory
}

// registerUnsavedMemory adds a mutation's new page memory to the running unsaved estimate.
func (mvStore *MVStore) registerUnsavedMemory(bytes int64) {
	atomic.AddInt64(&mvStore.unsavedMemory, bytes)
}

// accountFreedPage adds the memory estimate of a saved page that became unreachable to the
//	running freed estimate. The position and version are not recorded. The estimate is
//	exposed through FreedMemory and reset to zero by compaction.
func (mvStore *MVStore) accountFreedPage(pos uint64, memory int64, version uint64) {
	atomic.AddInt64(&mvStore.freedMemory, memory)
}

// FreedMemory returns the running estimate of dead space behind saved pages.
func (mvStore *MVStore) FreedMemory() int64 {
	return atomic.LoadInt64(&mvStore.freedMemory)
}

// CurrentVersion returns the store version the next commit will seal.
func (mvStore *MVStore) CurrentVersion() uint64 {
	return atomic.LoadUint64(&mvStore.currentVersion)
}

// getOldestVersionToKeep returns the floor below which versions may be pruned.
func (mvStore *MVStore) getOldestVersionToKeep() uint64 {
	return atomic.LoadUint64(&mvStore.oldestVersionToKeep)
}

// updateOldestVersionToKeep
//	Recomputes the retention floor from the retention window, held back by pinned snapshots.
func (mvStore *MVStore) updateOldestVersionToKeep() {
	current := atomic.LoadUint64(&mvStore.currentVersion)

	oldest := uint64(0)
	if current > mvStore.versionsToKeep { oldest = current - mvStore.versionsToKeep }

	mvStore.versionUsageLock.Lock()
	defer mvStore.versionUsageLock.Unlock()

	for _, pinned := range mvStore.versionUsage {
		if pinned < oldest { oldest = pinned }
	}

	atomic.StoreUint64(&mvStore.oldestVersionToKeep, oldest)
}

// registerVersionUsage pins the current version so bulk reads survive concurrent commits.
//	Returns the token to release the pin with.
func (mvStore *MVStore) registerVersionUsage() uint64 {
	mvStore.versionUsageLock.Lock()

	token := atomic.AddUint64(&mvStore.versionUsageSeq, 1)
	mvStore.versionUsage[token] = atomic.LoadUint64(&mvStore.currentVersion)

	mvStore.versionUsageLock.Unlock()

	mvStore.updateOldestVersionToKeep()
	return token
}

// deregisterVersionUsage releases a snapshot pin.
func (mvStore *MVStore) deregisterVersionUsage(token uint64) {
	mvStore.versionUsageLock.Lock()
	delete(mvStore.versionUsage, token)
	mvStore.versionUsageLock.Unlock()

	mvStore.updateOldestVersionToKeep()
}

// isPersistent reports whether the store carries a backing file.
func (mvStore *MVStore) isPersistent() bool {
	return mvStore.file != nil
}

// GetFileStore returns the backing file, nil for in-memory stores.
func (mvStore *MVStore) GetFileStore() *os.File {
	return mvStore.file
}

// GetKeysPerPage returns the per-store entries-per-page cap.
func (mvStore *MVStore) GetKeysPerPage() int {
	return mvStore.keysPerPage
}

// GetMaxPageSize returns the per-store byte cap on a page's memory estimate.
func (mvStore *MVStore) GetMaxPageSize() int64 {
	return mvStore.maxPageSize
}

// Commit seals the current version: every open map is stamped with the next write version
//	and, on persistent stores, changed map trees are appended to the backing file along with
//	a fresh directory and metadata. Returns the new current version.
func (mvStore *MVStore) Commit() (uint64, error) {
	mvStore.commitLock.Lock()
	defer mvStore.commitLock.Unlock()

	return mvStore.commitLocked()
}

// tryCommit runs a commit when no other commit is in flight, for the beforeWrite hook.
func (mvStore *MVStore) tryCommit() {
	if ! mvStore.commitLock.TryLock() { return }
	defer mvStore.commitLock.Unlock()

	_, commitErr := mvStore.commitLocked()
	if commitErr != nil { cLog.Error("error on auto commit:", commitErr.Error()) }
}

// commitLocked
//	The commit pipeline, entered with the commit lock held.
func (mvStore *MVStore) commitLocked() (uint64, error) {
	if ! mvStore.opened { return 0, ErrStoreClosed }

	version := atomic.LoadUint64(&mvStore.currentVersion)
	nextVersion := version + 1

	maps := mvStore.openMaps()

	for _, mvMap := range maps {
		_, flushErr := mvMap.flushAndGetRoot()
		if flushErr != nil { return 0, flushErr }

		mvMap.setWriteVersion(nextVersion)
	}

	if mvStore.isPersistent() {
		persistErr := mvStore.persistVersion(nextVersion, maps)
		if persistErr != nil { return 0, persistErr }
	}

	atomic.StoreUint64(&mvStore.currentVersion, nextVersion)
	atomic.StoreInt64(&mvStore.unsavedMemory, 0)
	mvStore.updateOldestVersionToKeep()

	return nextVersion, nil
}

// persistVersion
//	Appends every unsaved page of every non-volatile map to the backing file, writes the
//	map directory behind them and flips the metadata to the new version. The next append
//	offset is rewound onto the directory so successive commits reclaim its space.
func (mvStore *MVStore) persistVersion(version uint64, maps []*MVMap) error {
	_, nextStartOffset, loadOffErr := mvStore.loadMetaNextStartOffset()
	if loadOffErr != nil { return loadOffErr }

	var buf []byte
	entries := make([]mapDirectoryEntry, 0, len(maps))

	for _, mvMap := range maps {
		if mvMap.IsVolatile() { continue }

		ref := mvMap.loadRoot()

		if ref.root.pos == 0 {
			treeBuf, serializeErr := serializeTree(ref.root, buf, nextStartOffset)
			if serializeErr != nil { return serializeErr }

			buf = treeBuf
		}

		entries = append(entries, mapDirectoryEntry{
			id: mvMap.id,
			createVersion: mvMap.createVersion,
			rootPos: ref.root.pos,
			singleWriter: mvMap.singleWriter,
			name: mvMap.name,
		})
	}

	// carry over committed maps that were never reopened this run
	mvStore.mapsLock.RLock()
	for _, entry := range mvStore.recovered {
		entries = append(entries, entry)
	}
	mvStore.mapsLock.RUnlock()

	directoryOffset := nextStartOffset + uint64(len(buf))
	buf = append(buf, serializeDirectory(entries)...)

	capacityErr := mvStore.ensureCapacity(nextStartOffset + uint64(len(buf)))
	if capacityErr != nil { return capacityErr }

	_, writeErr := mvStore.writeRegionToMemMap(buf, nextStartOffset)
	if writeErr != nil { return writeErr }

	versionPtr, _, loadVErr := mvStore.loadMetaVersion()
	if loadVErr != nil { return loadVErr }

	directoryPtr, _, loadDirErr := mvStore.loadMetaDirectoryOffset()
	if loadDirErr != nil { return loadDirErr }

	offsetPtr, _, loadNextErr := mvStore.loadMetaNextStartOffset()
	if loadNextErr != nil { return loadNextErr }

	mvStore.storeMetaPointer(versionPtr, version)
	mvStore.storeMetaPointer(directoryPtr, directoryOffset)
	mvStore.storeMetaPointer(offsetPtr, directoryOffset)

	mvStore.signalFlush()
	return nil
}

// readPage resolves a saved page for a map by its position in the backing file.
func (mvStore *MVStore) readPage(mvMap *MVMap, pos uint64) (*MVPage, error) {
	page, readErr := mvStore.readPageAt(pos)
	if readErr != nil { return nil, readErr }

	if page.mapId != mvMap.id {
		return nil, fmt.Errorf("page at %d belongs to map %d, not map %d", pos, page.mapId, mvMap.id)
	}

	return page, nil
}

// readPageAt
//	Reads and deserializes the page at the given offset, fenced against concurrent resizes.
func (mvStore *MVStore) readPageAt(pos uint64) (page *MVPage, err error) {
	if ! mvStore.isPersistent() { return nil, errors.New("page read requested on an in-memory store") }

	defer func() {
		r := recover()
		if r != nil {
			page = nil
			err = errors.New("error reading page from mmap")
		}
	}()

	for atomic.LoadUint32(&mvStore.isResizing) == 1 { runtime.Gosched() }

	mvStore.rwResizeLock.RLock()
	defer mvStore.rwResizeLock.RUnlock()

	mMap := mvStore.data.Load().(mmap.MMap)
	if pos + 4 > uint64(len(mMap)) { return nil, errors.New("page position out of bounds") }

	total := uint64(binary.LittleEndian.Uint32(mMap[pos:pos + 4]))
	if pos + total > uint64(len(mMap)) { return nil, errors.New("page length out of bounds") }

	deserialized, pageErr := deserializePage(mMap[pos:pos + total])
	if pageErr != nil { return nil, pageErr }

	deserialized.pos = pos
	return deserialized, nil
}

// Close commits outstanding changes, stops the background flush, unmaps and closes the file.
func (mvStore *MVStore) Close() error {
	mvStore.commitLock.Lock()
	defer mvStore.commitLock.Unlock()

	if ! mvStore.opened { return nil }

	_, commitErr := mvStore.commitLocked()
	if commitErr != nil { return commitErr }

	mvStore.opened = false

	for _, mvMap := range mvStore.openMaps() {
		mvMap.Close()
	}

	close(mvStore.signalFlushChan)

	if mvStore.isPersistent() {
		flushErr := mvStore.file.Sync()
		if flushErr != nil { return flushErr }

		mvStore.rwResizeLock.Lock()
		unmapErr := mvStore.munmap()
		mvStore.rwResizeLock.Unlock()
		if unmapErr != nil { return unmapErr }

		closeErr := mvStore.file.Close()
		if closeErr != nil {
			cLog.Error("error closing file:", closeErr.Error())
			return closeErr
		}
	}

	mvStore.filepath = utils.GetZero[string]()
	return nil
}

// Remove closes the store and removes the backing file.
func (mvStore *MVStore) Remove() error {
	fileName := ""
	if mvStore.isPersistent() { fileName = mvStore.file.Name() }

	closeErr := mvStore.Close()
	if closeErr != nil { return closeErr }

	if fileName != "" {
		removeErr := os.Remove(fileName)
		if removeErr != nil {
			cLog.Error("error removing file:", removeErr.Error())
			return removeErr
		}
	}

	return nil
}

package mvmap

import "runtime"
import "sync/atomic"
import "unsafe"


//============================================= MVMap Versioning


// Version returns the current write version of the map.
func (mvMap *MVMap) Version() uint64 {
	return mvMap.loadRoot().version
}

// setWriteVersion
//	CAS-loops to stamp version onto the root reference, chaining the outgoing reference in
//	when it carried data changes. Called by the store on commit for every open map.
//	A closed map whose data fell out of the retention window is deregistered and nil returned.
func (mvMap *MVMap) setWriteVersion(version uint64) *MVRootReference {
	for {
		ref := mvMap.loadRoot()
		if ref.version >= version { return ref }

		if mvMap.IsClosed() && ref.version + 1 < mvMap.store.getOldestVersionToKeep() {
			mvMap.store.deregisterMapRoot(mvMap.id)
			return nil
		}

		if ref.holdCount > 0 {
			// a writer holds the logical lock, let it publish before stamping
			runtime.Gosched()
			continue
		}

		advanced := ref.advanceVersion(version)
		if mvMap.compareAndSetRoot(ref, advanced) {
			mvMap.removeUnusedOldVersions(advanced)
			return advanced
		}
	}
}

// removeUnusedOldVersions
//	Prunes the previous chain below the store's oldest version to keep.
//	The newest reference strictly below the floor stays reachable, along with every newer one,
//	since it may carry the data visible at the floor; everything behind it is cut loose for the
//	garbage collector.
func (mvMap *MVMap) removeUnusedOldVersions(ref *MVRootReference) {
	oldest := mvMap.store.getOldestVersionToKeep()

	for r := ref; r != nil; r = r.loadPrevious() {
		if r.version < oldest {
			r.storePrevious(nil)
			return
		}
	}
}

// OpenVersion opens a read-only snapshot of the map as of the given version.
//	The version must not predate the map and must still be inside the retained chain.
//	The snapshot shares pages with the live map; both stay valid since pages are immutable.
func (mvMap *MVMap) OpenVersion(version uint64) (*MVMap, error) {
	if version < mvMap.createVersion { return nil, ErrVersionUnknown }

	ref, flushErr := mvMap.flushAndGetRoot()
	if flushErr != nil { return nil, flushErr }

	for ref != nil && ref.version > version {
		ref = ref.loadPrevious()
	}

	if ref == nil { return nil, ErrVersionUnknown }

	snapshot := &MVMap{
		store: mvMap.store,
		name: mvMap.name,
		id: mvMap.id,
		createVersion: mvMap.createVersion,
		compare: mvMap.compare,
		keysPerPage: mvMap.keysPerPage,
		maxPageSize: mvMap.maxPageSize,
		readOnly: true,
	}

	snapshot.rootRef = unsafe.Pointer(newRootReference(ref.root, ref.version))
	return snapshot, nil
}

// RollbackTo rewinds the map to the newest retained state older than version.
//	Published roots newer than or at version are popped off the chain one CAS at a time.
//	Rolling back to the same version twice is a no-op the second time.
func (mvMap *MVMap) RollbackTo(version uint64) {
	mvMap.rollbackRoot(version)
	atomic.StoreUint32(&mvMap.closed, 0)
}

// rollbackRoot
//	The CAS loop behind RollbackTo, shared with the store-level rollback.
func (mvMap *MVMap) rollbackRoot(version uint64) {
	for {
		ref := mvMap.loadRoot()
		if ref.version < version { return }

		previous := ref.loadPrevious()
		if previous == nil { return }

		mvMap.compareAndSetRoot(ref, previous)
	}
}

// HasChangesSince reports whether the map holds data the given version did not.
//	On persistent stores a non-empty append buffer always counts as a change.
func (mvMap *MVMap) HasChangesSince(version uint64) bool {
	ref := mvMap.loadRoot()
	if mvMap.store.isPersistent() && ref.appendCounter > 0 { return true }

	prior := ref
	for prior != nil && prior.version >= version {
		prior = prior.loadPrevious()
	}

	if prior == nil { return ref.updateCounter > 0 || ref.appendCounter > 0 }
	return prior.root != ref.root || prior.appendCounter != ref.appendCounter
}

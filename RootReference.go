package mvmap

import "runtime"
import "sync/atomic"
import "time"
import "unsafe"


//============================================= MVRootReference


// newRootReference
//	Creates the initial root reference for a freshly opened map.
func newRootReference(root *MVPage, version uint64) *MVRootReference {
	return &MVRootReference{ root: root, version: version }
}

// loadRoot
//	Loads the current published root reference from the map's atomic root cell.
func (mvMap *MVMap) loadRoot() *MVRootReference {
	return (*MVRootReference)(atomic.LoadPointer(&mvMap.rootRef))
}

// compareAndSetRoot
//	The single publication point. Every mutation, lock transition and version advance goes through this CAS.
func (mvMap *MVMap) compareAndSetRoot(expected, updated *MVRootReference) bool {
	return atomic.CompareAndSwapPointer(&mvMap.rootRef, unsafe.Pointer(expected), unsafe.Pointer(updated))
}

// loadPrevious
//	Loads the back link to the last root reference of an older version that carried data changes.
func (ref *MVRootReference) loadPrevious() *MVRootReference {
	ptr := atomic.LoadPointer(&ref.previous)
	if ptr == nil { return nil }

	return (*MVRootReference)(ptr)
}

// storePrevious
//	Rewrites the back link. The only mutation on an otherwise immutable value,
//	performed single-writer under the logical lock when pruning old versions.
func (ref *MVRootReference) storePrevious(previous *MVRootReference) {
	atomic.StorePointer(&ref.previous, unsafe.Pointer(previous))
}

// isLockedBy
//	Whether the logical lock is held, and if so by whom.
func (ref *MVRootReference) isLockedBy(ownerId uint64) bool {
	return ref.holdCount > 0 && ref.ownerId == ownerId
}

// hasDataChanges
//	Whether this reference carries data its previous version link does not.
//	Versions without changes are elided from the chain as it is built.
func (ref *MVRootReference) hasDataChanges() bool {
	previous := ref.loadPrevious()
	if previous == nil { return ref.updateCounter > 0 || ref.appendCounter > 0 }

	return ref.root != previous.root || ref.appendCounter != previous.appendCounter
}

// updatedRoot
//	Derives the successor reference for a lock-free data update. Same version, same chain link.
func (ref *MVRootReference) updatedRoot(root *MVPage, attempts int64) *MVRootReference {
	updated := &MVRootReference{
		root: root,
		version: ref.version,
		updateCounter: ref.updateCounter + 1,
		updateAttemptCounter: ref.updateAttemptCounter + attempts,
		appendCounter: ref.appendCounter,
	}

	updated.storePrevious(ref.loadPrevious())
	return updated
}

// lockedCopy
//	Derives the successor reference holding the logical lock.
//	Reentrant: the same owner stacks holdCount instead of deadlocking.
func (ref *MVRootReference) lockedCopy(ownerId uint64) *MVRootReference {
	locked := &MVRootReference{
		root: ref.root,
		version: ref.version,
		updateCounter: ref.updateCounter,
		updateAttemptCounter: ref.updateAttemptCounter + 1,
		holdCount: ref.holdCount + 1,
		ownerId: ownerId,
		appendCounter: ref.appendCounter,
	}

	locked.storePrevious(ref.loadPrevious())
	return locked
}

// unlockedCopy
//	Derives the successor reference releasing one hold of the logical lock,
//	swapping in the root page and append counter produced under the lock.
func (ref *MVRootReference) unlockedCopy(root *MVPage, appendCounter uint16, attempts int64) *MVRootReference {
	updateCounter := ref.updateCounter
	if root != ref.root || appendCounter != ref.appendCounter { updateCounter++ }

	unlocked := &MVRootReference{
		root: root,
		version: ref.version,
		updateCounter: updateCounter,
		updateAttemptCounter: ref.updateAttemptCounter + attempts,
		holdCount: ref.holdCount - 1,
		appendCounter: appendCounter,
	}

	if unlocked.holdCount > 0 { unlocked.ownerId = ref.ownerId }

	unlocked.storePrevious(ref.loadPrevious())
	return unlocked
}

// advanceVersion
//	Derives the successor reference carrying version, chaining this reference in
//	only when it actually holds data the prior version did not.
func (ref *MVRootReference) advanceVersion(version uint64) *MVRootReference {
	advanced := &MVRootReference{
		root: ref.root,
		version: version,
		updateCounter: ref.updateCounter,
		updateAttemptCounter: ref.updateAttemptCounter,
		appendCounter: ref.appendCounter,
	}

	if ref.hasDataChanges() {
		advanced.storePrevious(ref)
	} else { advanced.storePrevious(ref.loadPrevious()) }

	return advanced
}

// updateRootPage
//	Lock-free publish of a new root page against the expected reference. Nil on contention.
func (mvMap *MVMap) updateRootPage(expected *MVRootReference, root *MVPage, attempts int64) *MVRootReference {
	updated := expected.updatedRoot(root, attempts)
	if mvMap.compareAndSetRoot(expected, updated) { return updated }

	return nil
}

// tryLock
//	One attempt at acquiring the logical lock by publishing a locked successor. Nil on contention.
func (mvMap *MVMap) tryLock(ref *MVRootReference, ownerId uint64) *MVRootReference {
	if ref.holdCount > 0 && ref.ownerId != ownerId { return nil }

	locked := ref.lockedCopy(ownerId)
	if mvMap.compareAndSetRoot(ref, locked) { return locked }

	return nil
}

// lockRoot
//	Acquires the logical lock, climbing the contention ladder between attempts.
func (mvMap *MVMap) lockRoot(ownerId uint64) *MVRootReference {
	attempt := 0

	for {
		attempt++

		ref := mvMap.loadRoot()
		locked := mvMap.tryLock(ref, ownerId)
		if locked != nil { return locked }

		mvMap.waitForUnlock(ref, attempt)
	}
}

// unlockAndUpdate
//	Releases one hold of the logical lock, publishing root and appendCounter as the new state.
//	While the lock is held no other writer can touch the cell, so the CAS cannot lose.
func (mvMap *MVMap) unlockAndUpdate(locked *MVRootReference, root *MVPage, appendCounter uint16, attempts int64) *MVRootReference {
	unlocked := locked.unlockedCopy(root, appendCounter, attempts)
	mvMap.compareAndSetRoot(locked, unlocked)
	mvMap.notifyUnlock()

	return unlocked
}

// unlockRoot
//	Releases one hold of the logical lock without changing the published data.
func (mvMap *MVMap) unlockRoot(locked *MVRootReference) *MVRootReference {
	return mvMap.unlockAndUpdate(locked, locked.root, locked.appendCounter, 0)
}

// waitForUnlock
//	The contention ladder. The first attempts spin, the next yield the processor,
//	then the writer sleeps proportionally to the observed attempt-to-success ratio,
//	and finally parks on the unlock notification channel with a 5ms cap.
func (mvMap *MVMap) waitForUnlock(ref *MVRootReference, attempt int) {
	switch {
		case attempt <= spinAttempts:
		case attempt <= yieldAttempts:
			runtime.Gosched()
		case attempt <= yieldAttempts * 2:
			contention := int64(1)
			if ref.updateCounter > 0 { contention += ref.updateAttemptCounter / ref.updateCounter }

			micros := int64(attempt - yieldAttempts) * contention * 10
			if micros > maxBackoffMicros { micros = maxBackoffMicros }

			time.Sleep(time.Duration(micros) * time.Microsecond)
		default:
			atomic.AddInt32(&mvMap.notifyWaiters, 1)
			notify := mvMap.notificationChannel()

			select {
				case <- notify:
				case <- time.After(maxBackoffMicros * time.Microsecond):
			}

			atomic.AddInt32(&mvMap.notifyWaiters, -1)
	}
}

// notificationChannel
//	Hands out the channel the next unlock will close.
func (mvMap *MVMap) notificationChannel() chan struct{} {
	mvMap.notifyLock.Lock()
	defer mvMap.notifyLock.Unlock()

	if mvMap.notifyChan == nil { mvMap.notifyChan = make(chan struct{}) }
	return mvMap.notifyChan
}

// notifyUnlock
//	Wakes parked writers after an unlock when any requested notification.
func (mvMap *MVMap) notifyUnlock() {
	if atomic.LoadInt32(&mvMap.notifyWaiters) == 0 { return }

	mvMap.notifyLock.Lock()
	defer mvMap.notifyLock.Unlock()

	if mvMap.notifyChan != nil {
		close(mvMap.notifyChan)
		mvMap.notifyChan = nil
	}
}

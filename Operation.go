package mvmap


//============================================= MVMap Operations


// Put inserts or updates a key-value pair in the map.
//	The operation traverses from the published root down to the target leaf, copying the affected
//	path, and publishes the rebuilt tree with a single CAS on the root cell. If the publication
//	fails the copied path is discarded and the operation retries from the new root.
//	Returns the previous value, or nil when the key was absent.
func (mvMap *MVMap) Put(key, value []byte) ([]byte, error) {
	if key == nil { return nil, ErrNilKey }
	if value == nil { return nil, ErrNilValue }

	return mvMap.operate(key, value, defaultDecisionMaker)
}

// PutIfAbsent inserts the key-value pair only when the key is absent.
//	Returns the existing value when one was already present.
func (mvMap *MVMap) PutIfAbsent(key, value []byte) ([]byte, error) {
	if key == nil { return nil, ErrNilKey }
	if value == nil { return nil, ErrNilValue }

	return mvMap.operate(key, value, ifAbsentDecisionMaker)
}

// Replace swaps the value only when the key is already present.
//	Returns the previous value, or nil when nothing was replaced.
func (mvMap *MVMap) Replace(key, value []byte) ([]byte, error) {
	if key == nil { return nil, ErrNilKey }
	if value == nil { return nil, ErrNilValue }

	return mvMap.operate(key, value, presentDecisionMaker)
}

// CompareAndReplace swaps the value only when the current value equals expected.
//	Returns true when the swap happened.
func (mvMap *MVMap) CompareAndReplace(key, expected, value []byte) (bool, error) {
	if key == nil { return false, ErrNilKey }
	if value == nil { return false, ErrNilValue }

	decisionMaker := &equalsDecisionMaker{ expected: expected, decision: DecisionPut }
	previous, opErr := mvMap.operate(key, value, decisionMaker)
	if opErr != nil { return false, opErr }

	return previous != nil && bytesEqual(previous, expected), nil
}

// Remove deletes the entry for key.
//	Returns the removed value, or nil when the key was absent.
func (mvMap *MVMap) Remove(key []byte) ([]byte, error) {
	if key == nil { return nil, ErrNilKey }

	return mvMap.operate(key, nil, deleteDecisionMaker)
}

// CompareAndRemove deletes the entry only when the current value equals expected.
//	Returns true when the removal happened.
func (mvMap *MVMap) CompareAndRemove(key, expected []byte) (bool, error) {
	if key == nil { return false, ErrNilKey }

	decisionMaker := &equalsDecisionMaker{ expected: expected, decision: DecisionRemove }
	previous, opErr := mvMap.operate(key, nil, decisionMaker)
	if opErr != nil { return false, opErr }

	return previous != nil && bytesEqual(previous, expected), nil
}

// Operate runs a custom decision maker against the entry for key.
//	The decision maker is consulted at the traversal tip and chooses put, remove, abort or repeat.
func (mvMap *MVMap) Operate(key, value []byte, decisionMaker MVDecisionMaker) ([]byte, error) {
	if key == nil { return nil, ErrNilKey }

	return mvMap.operate(key, value, decisionMaker)
}

// Get retrieves the value for key from the currently published tree.
//	The traversal runs against the snapshot captured by one atomic root load and does not block,
//	except on single-writer maps with staged appends, where the buffer is first folded into the
//	tree under the logical lock.
//	Returns nil when the key is absent.
func (mvMap *MVMap) Get(key []byte) ([]byte, error) {
	if key == nil { return nil, ErrNilKey }

	rootRef, flushErr := mvMap.flushAndGetRoot()
	if flushErr != nil { return nil, flushErr }

	return mvMap.getFromRoot(rootRef.root, key)
}

// ContainsKey reports whether key is present.
func (mvMap *MVMap) ContainsKey(key []byte) (bool, error) {
	value, getErr := mvMap.Get(key)
	if getErr != nil { return false, getErr }

	return value != nil, nil
}

// getFromRoot
//	Descends from root to the leaf for key and returns its value, nil when absent.
func (mvMap *MVMap) getFromRoot(root *MVPage, key []byte) ([]byte, error) {
	page := root

	for ! page.isLeaf {
		index := page.binarySearch(key, mvMap.compare) + 1
		if index < 0 { index = -index }

		child, childErr := mvMap.getChildPage(page, index)
		if childErr != nil { return nil, childErr }

		page = child
	}

	index := page.binarySearch(key, mvMap.compare)
	if index < 0 { return nil, nil }

	return page.getValue(index), nil
}

// operate
//	The copy-on-write attempt loop at the heart of every mutation.
//	Each iteration captures the published root, traverses to the target leaf, consults the decision
//	maker, rebuilds the affected path on private copies, and publishes by CAS. The first attempts run
//	lock-free; persistent contention upgrades to the logical root lock. The map is never observable
//	in an intermediate state since the publish CAS is the only mutation point.
func (mvMap *MVMap) operate(key, value []byte, decisionMaker MVDecisionMaker) ([]byte, error) {
	ownerId := nextOwnerId()
	var attempt int64

	for {
		attempt++

		rootRef, flushErr := mvMap.flushAndGetRoot()
		if flushErr != nil { return nil, flushErr }

		locked := false
		if attempt == 1 {
			beforeWriteErr := mvMap.store.beforeWrite(mvMap)
			if beforeWriteErr != nil { return nil, beforeWriteErr }
		}

		if attempt > 3 || rootRef.holdCount > 0 {
			rootRef = mvMap.lockRoot(ownerId)
			locked = true
		}

		version := rootRef.version
		var unsavedMemory int64

		pos, travErr := mvMap.traverseDown(rootRef.root, key)
		if travErr != nil {
			if locked { mvMap.unlockRoot(rootRef) }
			return nil, travErr
		}

		if ! locked && mvMap.loadRoot() != rootRef { continue }

		tip := pos
		index := pos.index
		page := pos.page
		pos = pos.parent

		var existing []byte
		if index >= 0 { existing = page.getValue(index) }

		decision := decisionMaker.Decide(existing, value)

		switch decision {
			case DecisionRepeat:
				if locked { mvMap.unlockRoot(rootRef) }

				decisionMaker.Reset()
				continue
			case DecisionAbort:
				if locked {
					mvMap.unlockRoot(rootRef)
				} else if mvMap.loadRoot() != rootRef {
					decisionMaker.Reset()
					continue
				}

				return existing, nil
			case DecisionRemove:
				if index < 0 {
					if locked {
						mvMap.unlockRoot(rootRef)
					} else if mvMap.loadRoot() != rootRef {
						decisionMaker.Reset()
						continue
					}

					return nil, nil
				}

				removed, removeErr := mvMap.removeFromLeaf(page, index, pos, &unsavedMemory)
				if removeErr != nil {
					if locked { mvMap.unlockRoot(rootRef) }
					return nil, removeErr
				}

				page, pos = removed.page, removed.parent
			case DecisionPut:
				value = decisionMaker.SelectValue(existing, value)

				pageCopy := page.copy(mvMap.store.pagePool)
				if index < 0 {
					pageCopy.insertLeaf(-index - 1, key, value)
					pageCopy, pos = mvMap.splitUpwards(pageCopy, pos, &unsavedMemory)
				} else { pageCopy.setValue(index, value) }

				unsavedMemory += pageCopy.memory
				page = pageCopy
		}

		newRoot := mvMap.replacePage(pos, page, &unsavedMemory)

		if locked {
			mvMap.unlockAndUpdate(rootRef, newRoot, rootRef.appendCounter, 1)
		} else if mvMap.updateRootPage(rootRef, newRoot, attempt) == nil {
			decisionMaker.Reset()
			// a remove can leave page pointing at a published sibling, so only put copies are recycled
			if decision == DecisionPut { mvMap.store.pagePool.putPage(page) }
			continue
		}

		mvMap.store.registerUnsavedMemory(unsavedMemory + mvMap.processRemovalInfo(tip, version))
		return existing, nil
	}
}

// bytesEqual reports whether two values hold the same bytes, treating nil as empty.
func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) { return false }

	for idx := range a {
		if a[idx] != b[idx] { return false }
	}

	return true
}

// removeFromLeaf
//	Deletes the entry at index. When the leaf holds its last entry the emptied subtree is cut
//	out of its parent: a parent left with a single child is replaced by that child, and a
//	legacy zero-key single-child page above it propagates the emptiness one level further.
func (mvMap *MVMap) removeFromLeaf(page *MVPage, index int, pos *MVCursorPos, unsavedMemory *int64) (*MVCursorPos, error) {
	if page.totalCount() == 1 && pos != nil {
		for {
			page = pos.page
			index = pos.index
			pos = pos.parent

			keyCount := page.keyCount()

			switch {
				case keyCount > 1:
					pageCopy := page.copy(mvMap.store.pagePool)
					pageCopy.removeChild(index)
					*unsavedMemory += pageCopy.memory

					return &MVCursorPos{ page: pageCopy, parent: pos }, nil
				case keyCount == 1:
					other, childErr := mvMap.getChildPage(page, 1 - index)
					if childErr != nil { return nil, childErr }

					return &MVCursorPos{ page: other, parent: pos }, nil
				default:
					// zero-key page written by an older format loses its only child
					if pos == nil {
						return &MVCursorPos{ page: newLeafPage(mvMap.id, nil, nil) }, nil
					}
			}
		}
	}

	pageCopy := page.copy(mvMap.store.pagePool)
	pageCopy.removeLeaf(index)
	*unsavedMemory += pageCopy.memory

	return &MVCursorPos{ page: pageCopy, parent: pos }, nil
}

// splitUpwards
//	Resolves page overflow after an insert, splitting and ascending until every page on the
//	rebuilt path respects the entry and byte thresholds. A split reaching the root grows the
//	tree by one level with a fresh two-child internal root.
func (mvMap *MVMap) splitUpwards(page *MVPage, pos *MVCursorPos, unsavedMemory *int64) (*MVPage, *MVCursorPos) {
	for {
		keyCount := page.keyCount()
		if keyCount <= mvMap.keysPerPage && (page.memory <= mvMap.maxPageSize || keyCount <= splitFloor(page)) { break }

		at := keyCount >> 1
		pivot := page.keys[at]
		right := page.split(at)
		*unsavedMemory += page.memory + right.memory

		if pos == nil {
			keys := [][]byte{ pivot }
			children := []*MVPageRef{ newPageRef(page), newPageRef(right) }
			page = newInternalPage(mvMap.id, keys, children)

			break
		}

		parent := pos.page
		index := pos.index
		pos = pos.parent

		parentCopy := parent.copy(mvMap.store.pagePool)
		parentCopy.setChild(index, right)
		parentCopy.insertNode(index, pivot, page)
		page = parentCopy
	}

	return page, pos
}

// splitFloor
//	The entry count at or below which the byte threshold no longer forces a split.
func splitFloor(page *MVPage) int {
	if page.isLeaf { return 1 }
	return 2
}

// replacePage
//	Rebuilds the path above pos around page, copying each parent with the child reference swapped.
//	Zero-key single-child pages written by older formats are elided from the rebuilt path;
//	new writes never produce them.
func (mvMap *MVMap) replacePage(pos *MVCursorPos, page *MVPage, unsavedMemory *int64) *MVPage {
	for pos != nil {
		parent := pos.page

		if parent.keyCount() > 0 {
			parentCopy := parent.copy(mvMap.store.pagePool)
			parentCopy.setChild(pos.index, page)
			*unsavedMemory += parentCopy.memory
			page = parentCopy
		}

		pos = pos.parent
	}

	return page
}

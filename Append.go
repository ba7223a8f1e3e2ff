package mvmap


//============================================= MVMap Append Buffer


// flushAndGetRoot
//	The root reference every operation starts from. On single-writer maps any buffered
//	appends are folded into the tree first so the returned root covers every entry.
func (mvMap *MVMap) flushAndGetRoot() (*MVRootReference, error) {
	rootRef := mvMap.loadRoot()
	if ! mvMap.singleWriter || rootRef.appendCounter == 0 { return rootRef, nil }

	ownerId := nextOwnerId()
	locked := mvMap.lockRoot(ownerId)

	root, remaining, flushErr := mvMap.flushAppendBuffer(locked, true)
	if flushErr != nil {
		mvMap.unlockRoot(locked)
		return nil, flushErr
	}

	return mvMap.unlockAndUpdate(locked, root, remaining, 1), nil
}

// Append stages a key-value pair past the rightmost leaf of a single-writer map.
//	Precondition: key is strictly greater than the largest key in the map. Appends are not
//	safe against concurrent mutators; maps opened without SingleWriter fall back to Put.
//	The buffered tail is folded into the tree once the buffer fills, on the next flush,
//	or when any operation needs a complete root.
func (mvMap *MVMap) Append(key, value []byte) error {
	if key == nil { return ErrNilKey }
	if value == nil { return ErrNilValue }

	if ! mvMap.singleWriter {
		_, putErr := mvMap.Put(key, value)
		return putErr
	}

	beforeWriteErr := mvMap.store.beforeWrite(mvMap)
	if beforeWriteErr != nil { return beforeWriteErr }

	ownerId := nextOwnerId()
	locked := mvMap.lockRoot(ownerId)

	root := locked.root
	fill := locked.appendCounter

	if int(fill) >= mvMap.keysPerPage {
		flushedRoot, remaining, flushErr := mvMap.flushAppendBuffer(locked, false)
		if flushErr != nil {
			mvMap.unlockRoot(locked)
			return flushErr
		}

		root = flushedRoot
		fill = remaining
	}

	mvMap.keysBuffer[fill] = key
	mvMap.valuesBuffer[fill] = value

	mvMap.unlockAndUpdate(locked, root, fill + 1, 1)
	mvMap.store.registerUnsavedMemory(leafEntryMemory(key, value))

	return nil
}

// TrimLast drops the entry with the largest key.
//	A non-empty append buffer makes this a counter decrement under the lock;
//	otherwise the rightmost entry is removed through the regular operate path.
func (mvMap *MVMap) TrimLast() error {
	if mvMap.singleWriter {
		ownerId := nextOwnerId()
		locked := mvMap.lockRoot(ownerId)

		if locked.appendCounter > 0 {
			mvMap.unlockAndUpdate(locked, locked.root, locked.appendCounter - 1, 1)
			return nil
		}

		mvMap.unlockRoot(locked)
	}

	lastKey, lastErr := mvMap.LastKey()
	if lastErr != nil { return lastErr }
	if lastKey == nil { return nil }

	_, removeErr := mvMap.Remove(lastKey)
	return removeErr
}

// flushAppendBuffer
//	Folds buffered appends into the tree while more than threshold entries remain.
//	A full flush drains the buffer completely; a partial flush stops once a single free
//	slot is guaranteed, keeping up to keysPerPage-1 entries staged.
//	Entries first expand into free space on the rightmost leaf; once that leaf is full the
//	remaining tail becomes a fresh sibling leaf spliced into the parent chain.
//	Must be called by the lock holder; the caller publishes the returned root and fill.
func (mvMap *MVMap) flushAppendBuffer(locked *MVRootReference, fullFlush bool) (*MVPage, uint16, error) {
	root := locked.root
	fill := int(locked.appendCounter)

	threshold := 0
	if ! fullFlush { threshold = mvMap.keysPerPage - 1 }

	var unsavedMemory int64

	for fill > threshold {
		pos, posErr := mvMap.getAppendCursorPos(root)
		if posErr != nil { return nil, 0, posErr }

		leaf := pos.page
		parentPos := pos.parent
		available := mvMap.keysPerPage - leaf.keyCount()

		if available > 0 {
			consumed := fill
			if consumed > available { consumed = available }

			leafCopy := leaf.copy(mvMap.store.pagePool)
			leafCopy.expand(consumed, mvMap.keysBuffer, mvMap.valuesBuffer)
			unsavedMemory += leafCopy.memory

			root = mvMap.replacePage(parentPos, leafCopy, &unsavedMemory)
			unsavedMemory += mvMap.processRemovalInfo(pos, locked.version)

			copy(mvMap.keysBuffer, mvMap.keysBuffer[consumed:fill])
			copy(mvMap.valuesBuffer, mvMap.valuesBuffer[consumed:fill])
			fill -= consumed

			continue
		}

		siblingKeys := make([][]byte, fill)
		siblingValues := make([][]byte, fill)
		copy(siblingKeys, mvMap.keysBuffer[:fill])
		copy(siblingValues, mvMap.valuesBuffer[:fill])

		sibling := newLeafPage(mvMap.id, siblingKeys, siblingValues)
		unsavedMemory += sibling.memory

		root = mvMap.spliceSibling(leaf, sibling, parentPos, &unsavedMemory)
		fill = 0
	}

	if unsavedMemory > 0 { mvMap.store.registerUnsavedMemory(unsavedMemory) }
	return root, uint16(fill), nil
}

// spliceSibling
//	Attaches right as the new rightmost sibling of left, rebuilding the parent chain and
//	resolving any splits the extra child provokes. A nil parent grows the tree by one level.
func (mvMap *MVMap) spliceSibling(left, right *MVPage, pos *MVCursorPos, unsavedMemory *int64) *MVPage {
	pivot := right.keys[0]

	if pos == nil {
		keys := [][]byte{ pivot }
		children := []*MVPageRef{ newPageRef(left), newPageRef(right) }

		return newInternalPage(mvMap.id, keys, children)
	}

	parentCopy := pos.page.copy(mvMap.store.pagePool)
	parentCopy.setChild(pos.index, right)
	parentCopy.insertNode(pos.index, pivot, left)
	*unsavedMemory += parentCopy.memory

	page, rest := mvMap.splitUpwards(parentCopy, pos.parent, unsavedMemory)
	return mvMap.replacePage(rest, page, unsavedMemory)
}

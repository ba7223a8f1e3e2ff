package mvmap


//============================================= MVCursor


// MVCursor is a lazy ordered iterator over the tree snapshot captured at construction.
//	Concurrent writers publish fresh pages, so the cursor's view never moves underneath it.
type MVCursor struct {
	// mvMap: the owning map, consulted for comparisons and page resolution
	mvMap *MVMap
	// root: the snapshot root captured at construction
	root *MVPage
	// pos: the traversal stack, leaf frame first. nil once exhausted
	pos *MVCursorPos
	// to: inclusive stop bound, nil for unbounded
	to []byte
	// reverse: iterate from high keys to low
	reverse bool
	// err: the first page resolution failure, ends iteration
	err error
}

// Cursor opens a forward cursor starting at the smallest key greater than or equal to from.
//	A nil from starts at the first key.
func (mvMap *MVMap) Cursor(from []byte) (*MVCursor, error) {
	return mvMap.CursorRange(from, nil, false)
}

// CursorRange opens a cursor over [from, to], walking backwards when reverse is set.
//	Bounds are inclusive and either may be nil for the open end. The cursor observes the
//	tree as published at construction, stable under concurrent writers.
func (mvMap *MVMap) CursorRange(from, to []byte, reverse bool) (*MVCursor, error) {
	rootRef, flushErr := mvMap.flushAndGetRoot()
	if flushErr != nil { return nil, flushErr }

	cursor := &MVCursor{ mvMap: mvMap, root: rootRef.root, to: to, reverse: reverse }

	seekErr := cursor.seek(from)
	if seekErr != nil { return nil, seekErr }

	return cursor, nil
}

// KeyIterator opens a forward cursor from the given key, nil for the first.
func (mvMap *MVMap) KeyIterator(from []byte) (*MVCursor, error) {
	return mvMap.CursorRange(from, nil, false)
}

// KeyIteratorReverse opens a reverse cursor from the given key, nil for the last.
func (mvMap *MVMap) KeyIteratorReverse(from []byte) (*MVCursor, error) {
	return mvMap.CursorRange(from, nil, true)
}

// seek
//	Builds the traversal stack so the leaf frame points at the first entry to yield.
func (cursor *MVCursor) seek(from []byte) error {
	mvMap := cursor.mvMap
	page := cursor.root

	var pos *MVCursorPos

	for ! page.isLeaf {
		index := 0

		switch {
			case from != nil:
				index = page.binarySearch(from, mvMap.compare) + 1
				if index < 0 { index = -index }
			case cursor.reverse:
				index = len(page.children) - 1
		}

		pos = &MVCursorPos{ page: page, index: index, parent: pos }

		child, childErr := mvMap.getChildPage(page, index)
		if childErr != nil { return childErr }

		page = child
	}

	index := 0

	switch {
		case from != nil:
			index = page.binarySearch(from, mvMap.compare)
			if index < 0 {
				index = -index - 1
				if cursor.reverse { index-- }
			}
		case cursor.reverse:
			index = page.keyCount() - 1
	}

	cursor.pos = &MVCursorPos{ page: page, index: index, parent: pos }
	return nil
}

// Next yields the entry under the cursor and advances it.
//	Returns ok false once the sequence or the stop bound is exhausted, or when page
//	resolution failed. Check Err after an early false.
func (cursor *MVCursor) Next() ([]byte, []byte, bool) {
	mvMap := cursor.mvMap

	for cursor.pos != nil {
		frame := cursor.pos
		page := frame.page

		if frame.index >= 0 && frame.index < page.keyCount() {
			key := page.keys[frame.index]
			value := page.getValue(frame.index)

			if cursor.to != nil {
				cmp := mvMap.compare(key, cursor.to)
				if (! cursor.reverse && cmp > 0) || (cursor.reverse && cmp < 0) {
					cursor.pos = nil
					return nil, nil, false
				}
			}

			if cursor.reverse { frame.index-- } else { frame.index++ }
			return key, value, true
		}

		advanceErr := cursor.advanceLeaf()
		if advanceErr != nil {
			cursor.err = advanceErr
			cursor.pos = nil
			return nil, nil, false
		}
	}

	return nil, nil, false
}

// Err reports the page resolution failure that ended iteration early, if any.
func (cursor *MVCursor) Err() error {
	return cursor.err
}

// advanceLeaf
//	Ascends to the nearest ancestor with an unvisited child in the iteration direction,
//	then descends along the near edge of that child back down to a leaf.
func (cursor *MVCursor) advanceLeaf() error {
	mvMap := cursor.mvMap
	pos := cursor.pos.parent

	for pos != nil {
		if cursor.reverse { pos.index-- } else { pos.index++ }

		if pos.index >= 0 && pos.index < len(pos.page.children) { break }
		pos = pos.parent
	}

	if pos == nil {
		cursor.pos = nil
		return nil
	}

	page, childErr := mvMap.getChildPage(pos.page, pos.index)
	if childErr != nil { return childErr }

	for ! page.isLeaf {
		index := 0
		if cursor.reverse { index = len(page.children) - 1 }

		pos = &MVCursorPos{ page: page, index: index, parent: pos }

		child, descendErr := mvMap.getChildPage(page, index)
		if descendErr != nil { return descendErr }

		page = child
	}

	index := 0
	if cursor.reverse { index = page.keyCount() - 1 }

	cursor.pos = &MVCursorPos{ page: page, index: index, parent: pos }
	return nil
}


//============================================= MVMap Ordered Key Queries


// FirstKey returns the smallest key, nil when the map is empty.
func (mvMap *MVMap) FirstKey() ([]byte, error) {
	return mvMap.getFirstLast(true)
}

// LastKey returns the largest key, nil when the map is empty.
func (mvMap *MVMap) LastKey() ([]byte, error) {
	return mvMap.getFirstLast(false)
}

// HigherKey returns the smallest key strictly greater than key, nil when none exists.
func (mvMap *MVMap) HigherKey(key []byte) ([]byte, error) {
	return mvMap.minMaxFromRoot(key, false, true)
}

// CeilingKey returns the smallest key greater than or equal to key, nil when none exists.
func (mvMap *MVMap) CeilingKey(key []byte) ([]byte, error) {
	return mvMap.minMaxFromRoot(key, false, false)
}

// FloorKey returns the largest key less than or equal to key, nil when none exists.
func (mvMap *MVMap) FloorKey(key []byte) ([]byte, error) {
	return mvMap.minMaxFromRoot(key, true, false)
}

// LowerKey returns the largest key strictly less than key, nil when none exists.
func (mvMap *MVMap) LowerKey(key []byte) ([]byte, error) {
	return mvMap.minMaxFromRoot(key, true, true)
}

// getFirstLast
//	Walks the leftmost or rightmost edge down to a leaf.
func (mvMap *MVMap) getFirstLast(first bool) ([]byte, error) {
	rootRef, flushErr := mvMap.flushAndGetRoot()
	if flushErr != nil { return nil, flushErr }

	page := rootRef.root

	for ! page.isLeaf {
		index := 0
		if ! first { index = len(page.children) - 1 }

		child, childErr := mvMap.getChildPage(page, index)
		if childErr != nil { return nil, childErr }

		page = child
	}

	if page.keyCount() == 0 { return nil, nil }

	if first { return page.keys[0], nil }
	return page.keys[page.keyCount() - 1], nil
}

func (mvMap *MVMap) minMaxFromRoot(key []byte, min, excluding bool) ([]byte, error) {
	if key == nil { return nil, ErrNilKey }

	rootRef, flushErr := mvMap.flushAndGetRoot()
	if flushErr != nil { return nil, flushErr }

	return mvMap.getMinMax(rootRef.root, key, min, excluding)
}

// getMinMax
//	Descends towards key and resolves the nearest neighbor in the requested direction,
//	retrying adjacent siblings when the primary subtree comes up empty.
func (mvMap *MVMap) getMinMax(page *MVPage, key []byte, min, excluding bool) ([]byte, error) {
	x := page.binarySearch(key, mvMap.compare)

	if page.isLeaf {
		if x < 0 {
			x = -x - 1
			if min { x-- }
		} else if excluding {
			if min { x-- } else { x++ }
		}

		if x < 0 || x >= page.keyCount() { return nil, nil }
		return page.keys[x], nil
	}

	x = x + 1
	if x < 0 { x = -x }

	for {
		if x < 0 || x >= len(page.children) { return nil, nil }

		child, childErr := mvMap.getChildPage(page, x)
		if childErr != nil { return nil, childErr }

		found, minMaxErr := mvMap.getMinMax(child, key, min, excluding)
		if minMaxErr != nil { return nil, minMaxErr }
		if found != nil { return found, nil }

		if min { x-- } else { x++ }
	}
}


//============================================= MVMap Scans


// ForEach runs fn over every entry in order until fn returns false.
func (mvMap *MVMap) ForEach(fn func(key, value []byte) bool) error {
	cursor, cursorErr := mvMap.Cursor(nil)
	if cursorErr != nil { return cursorErr }

	for {
		key, value, ok := cursor.Next()
		if ! ok { return cursor.Err() }
		if ! fn(key, value) { return nil }
	}
}

// EntrySet materializes every entry in key order.
func (mvMap *MVMap) EntrySet() ([]*KeyValuePair, error) {
	var entries []*KeyValuePair

	forEachErr := mvMap.ForEach(func(key, value []byte) bool {
		entries = append(entries, &KeyValuePair{ Key: key, Value: value })
		return true
	})

	if forEachErr != nil { return nil, forEachErr }
	return entries, nil
}

// KeySet materializes every key in order.
func (mvMap *MVMap) KeySet() ([][]byte, error) {
	var keys [][]byte

	forEachErr := mvMap.ForEach(func(key, value []byte) bool {
		keys = append(keys, key)
		return true
	})

	if forEachErr != nil { return nil, forEachErr }
	return keys, nil
}

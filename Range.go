package mvmap


//============================================= MVMap Ranked Access


// GetKeyAtIndex returns the key holding the given rank in the order, nil when out of range.
//	The descent partitions the rank into one child subtree per level using the cached
//	subtree counts, so the lookup is logarithmic in the map size.
func (mvMap *MVMap) GetKeyAtIndex(index int64) ([]byte, error) {
	if index < 0 { return nil, nil }

	rootRef, flushErr := mvMap.flushAndGetRoot()
	if flushErr != nil { return nil, flushErr }

	page := rootRef.root
	var offset int64

	for {
		if page.isLeaf {
			if index >= offset + int64(page.keyCount()) { return nil, nil }
			return page.keys[index - offset], nil
		}

		childIndex := 0

		for ; childIndex < len(page.children); childIndex++ {
			count := page.children[childIndex].count
			if index < offset + count { break }

			offset += count
		}

		if childIndex == len(page.children) { return nil, nil }

		child, childErr := mvMap.getChildPage(page, childIndex)
		if childErr != nil { return nil, childErr }

		page = child
	}
}

// GetKeyIndex returns the rank of key when present.
//	When absent it returns -(insertionRank + 1), where insertionRank is the rank the key
//	would occupy. An empty map always reports -1.
func (mvMap *MVMap) GetKeyIndex(key []byte) (int64, error) {
	if key == nil { return -1, ErrNilKey }

	rootRef, flushErr := mvMap.flushAndGetRoot()
	if flushErr != nil { return -1, flushErr }

	page := rootRef.root
	if page.totalCount() == 0 { return -1, nil }

	var offset int64

	for {
		x := page.binarySearch(key, mvMap.compare)

		if page.isLeaf {
			if x < 0 { return -(offset + int64(-x - 1) + 1), nil }
			return offset + int64(x), nil
		}

		x = x + 1
		if x < 0 { x = -x }

		for idx := 0; idx < x; idx++ {
			offset += page.children[idx].count
		}

		child, childErr := mvMap.getChildPage(page, x)
		if childErr != nil { return -1, childErr }

		page = child
	}
}

// MVKeyList is a live read-only ranked view over a map's keys.
type MVKeyList struct {
	// mvMap: the viewed map
	mvMap *MVMap
}

// KeyList returns the ranked key view.
func (mvMap *MVMap) KeyList() *MVKeyList {
	return &MVKeyList{ mvMap: mvMap }
}

// Get returns the key at the given rank, nil when out of range.
func (keyList *MVKeyList) Get(index int64) ([]byte, error) {
	return keyList.mvMap.GetKeyAtIndex(index)
}

// IndexOf returns the rank of key, negative-encoded insertion rank when absent.
func (keyList *MVKeyList) IndexOf(key []byte) (int64, error) {
	return keyList.mvMap.GetKeyIndex(key)
}

// Len returns the number of keys in the view.
func (keyList *MVKeyList) Len() int64 {
	return keyList.mvMap.Size()
}

package mvmap

import "sync/atomic"
import "unsafe"


//============================================= MVPage Operations


// newLeafPage
//	Creates a leaf page owning the provided parallel key/value arrays.
//	The memory estimate is seeded from the base cost plus every entry, and kept incremental from then on.
func newLeafPage(mapId uint32, keys, values [][]byte) *MVPage {
	page := &MVPage{
		mapId: mapId,
		isLeaf: true,
		keys: keys,
		values: values,
		memory: pageBaseMemory,
	}

	for idx := range keys {
		page.memory += leafEntryMemory(keys[idx], values[idx])
	}

	return page
}

// newInternalPage
//	Creates an internal page from separator keys and child references.
//	len(children) must equal len(keys) + 1 for any page produced by new writes.
func newInternalPage(mapId uint32, keys [][]byte, children []*MVPageRef) *MVPage {
	page := &MVPage{
		mapId: mapId,
		keys: keys,
		children: children,
		memory: pageBaseMemory,
	}

	for _, key := range keys {
		page.memory += nodeKeyMemory(key)
	}

	page.memory += int64(len(children)) * pageChildMemory
	return page
}

// newPageRef
//	Wraps a resident page into a child reference, caching its subtree count.
func newPageRef(page *MVPage) *MVPageRef {
	ref := &MVPageRef{ count: page.totalCount() }
	ref.setResident(page)

	return ref
}

// resident
//	Returns the in-memory child page behind this reference, or nil if only the saved position is known.
func (ref *MVPageRef) resident() *MVPage {
	ptr := atomic.LoadPointer(&ref.page)
	if ptr == nil { return nil }

	return (*MVPage)(ptr)
}

// setResident
//	Publishes the resident page behind this reference. Racing readers resolve the same saved position, so last write wins.
func (ref *MVPageRef) setResident(page *MVPage) {
	atomic.StorePointer(&ref.page, unsafe.Pointer(page))
}

func leafEntryMemory(key, value []byte) int64 {
	return pageEntryMemory + int64(len(key)) + int64(len(value))
}

func nodeKeyMemory(key []byte) int64 {
	return pageEntryMemory + int64(len(key))
}

// keyCount
//	The number of keys held directly on this page.
func (page *MVPage) keyCount() int {
	return len(page.keys)
}

// totalCount
//	The total number of leaf entries in the subtree rooted at this page.
//	For internal pages this is the sum of the cached child counts.
func (page *MVPage) totalCount() int64 {
	if page.isLeaf { return int64(len(page.keys)) }

	var total int64
	for _, child := range page.children {
		total += child.count
	}

	return total
}

// binarySearch
//	Locates key on this page under the injected comparator.
//	Returns the match index when found, otherwise -(insertionPoint + 1) where insertionPoint
//	is the index of the first key greater than the search key.
func (page *MVPage) binarySearch(key []byte, compare MVComparator) int {
	low, high := 0, len(page.keys) - 1

	for low <= high {
		mid := (low + high) >> 1
		cmp := compare(page.keys[mid], key)

		switch {
			case cmp < 0:
				low = mid + 1
			case cmp > 0:
				high = mid - 1
			default:
				return mid
		}
	}

	return -(low + 1)
}

// getValue
//	The value stored at index on a leaf page.
func (page *MVPage) getValue(index int) []byte {
	return page.values[index]
}

// copy
//	Shallow copy with fresh arrays so the caller may mutate without affecting published pages.
//	The copy starts unsaved. Key and value byte slices are shared since they are never mutated in place.
func (page *MVPage) copy(pool *MVPagePool) *MVPage {
	pageCopy := pool.getPage()

	pageCopy.mapId = page.mapId
	pageCopy.isLeaf = page.isLeaf
	pageCopy.pos = 0
	pageCopy.memory = page.memory

	pageCopy.keys = make([][]byte, len(page.keys))
	copy(pageCopy.keys, page.keys)

	if page.isLeaf {
		pageCopy.values = make([][]byte, len(page.values))
		copy(pageCopy.values, page.values)
	} else {
		pageCopy.children = make([]*MVPageRef, len(page.children))
		copy(pageCopy.children, page.children)
	}

	return pageCopy
}

// split
//	Splits this page in place, keeping [0, at) here and returning a new right page.
//	For a leaf the pivot key keys[at] stays in the right page.
//	For an internal page the pivot key is removed from both halves and must be captured by the caller beforehand.
func (page *MVPage) split(at int) *MVPage {
	if page.isLeaf {
		rightKeys := make([][]byte, len(page.keys) - at)
		rightValues := make([][]byte, len(page.values) - at)
		copy(rightKeys, page.keys[at:])
		copy(rightValues, page.values[at:])

		right := newLeafPage(page.mapId, rightKeys, rightValues)

		page.keys = page.keys[:at]
		page.values = page.values[:at]
		page.memory -= right.memory - pageBaseMemory

		return right
	}

	rightKeys := make([][]byte, len(page.keys) - at - 1)
	copy(rightKeys, page.keys[at + 1:])

	rightChildren := make([]*MVPageRef, len(page.children) - at - 1)
	copy(rightChildren, page.children[at + 1:])

	right := newInternalPage(page.mapId, rightKeys, rightChildren)

	page.memory -= right.memory - pageBaseMemory
	page.memory -= nodeKeyMemory(page.keys[at])
	page.keys = page.keys[:at]
	page.children = page.children[:at + 1]

	return right
}

// insertLeaf
//	Grows keys and values at index, shifting entries right. Only legal on a privately owned copy.
func (page *MVPage) insertLeaf(index int, key, value []byte) {
	page.keys = insertBytesAt(page.keys, index, key)
	page.values = insertBytesAt(page.values, index, value)
	page.memory += leafEntryMemory(key, value)
}

// setValue
//	Replaces the value at index on a privately owned leaf copy.
func (page *MVPage) setValue(index int, value []byte) {
	page.memory += int64(len(value)) - int64(len(page.values[index]))
	page.values[index] = value
}

// insertNode
//	Inserts a separator key at index and a left child reference at the same index, shifting right.
//	The existing reference at index becomes the right neighbor of the inserted child.
func (page *MVPage) insertNode(index int, key []byte, child *MVPage) {
	page.keys = insertBytesAt(page.keys, index, key)

	ref := newPageRef(child)
	page.children = append(page.children, nil)
	copy(page.children[index + 1:], page.children[index:])
	page.children[index] = ref

	page.memory += nodeKeyMemory(key) + pageChildMemory
}

// setChild
//	Replaces the child reference at index with a fresh reference to child, refreshing the cached count.
func (page *MVPage) setChild(index int, child *MVPage) {
	page.children[index] = newPageRef(child)
}

// removeLeaf
//	Deletes the entry at index from a privately owned leaf copy.
func (page *MVPage) removeLeaf(index int) {
	page.memory -= leafEntryMemory(page.keys[index], page.values[index])
	page.keys = removeBytesAt(page.keys, index)
	page.values = removeBytesAt(page.values, index)
}

// removeChild
//	Deletes the child reference at index from a privately owned internal copy, along with its separator key.
//	The separator removed is the one at index, or the last one when the rightmost child goes.
func (page *MVPage) removeChild(index int) {
	keyIndex := index
	if keyIndex >= len(page.keys) { keyIndex = len(page.keys) - 1 }

	page.memory -= nodeKeyMemory(page.keys[keyIndex]) + pageChildMemory
	page.keys = removeBytesAt(page.keys, keyIndex)

	copy(page.children[index:], page.children[index + 1:])
	page.children = page.children[:len(page.children) - 1]
}

// expand
//	Appends count sorted entries from the append buffers to a privately owned leaf copy.
//	Precondition: keys[0] is strictly greater than the last existing key.
func (page *MVPage) expand(count int, keys, values [][]byte) {
	for idx := 0; idx < count; idx++ {
		page.keys = append(page.keys, keys[idx])
		page.values = append(page.values, values[idx])
		page.memory += leafEntryMemory(keys[idx], values[idx])
	}
}

// getChildPage
//	Resolves the child at index, reading it from the store by its saved position when not resident.
func (mvMap *MVMap) getChildPage(page *MVPage, index int) (*MVPage, error) {
	ref := page.children[index]

	child := ref.resident()
	if child != nil { return child, nil }

	child, readErr := mvMap.store.readPage(mvMap, ref.pos)
	if readErr != nil { return nil, readErr }

	ref.setResident(child)
	return child, nil
}

// removePage
//	Accounts this page as garbage that becomes reclaimable at version.
//	Saved pages are additionally queued with the store for space accounting. Returns the freed memory estimate.
func (mvMap *MVMap) removePage(page *MVPage, version uint64) int64 {
	if page.pos != 0 { mvMap.store.accountFreedPage(page.pos, page.memory, version) }
	return page.memory
}

// removeAllRecursive
//	Walks the whole subtree accounting every resident page as reclaimable at version.
//	Children that only exist on disk are not read in and are not accounted.
func (mvMap *MVMap) removeAllRecursive(page *MVPage, version uint64) int64 {
	freed := mvMap.removePage(page, version)
	if page.isLeaf { return freed }

	for _, ref := range page.children {
		child := ref.resident()
		if child != nil { freed += mvMap.removeAllRecursive(child, version) }
	}

	return freed
}

func insertBytesAt(entries [][]byte, index int, entry []byte) [][]byte {
	entries = append(entries, nil)
	copy(entries[index + 1:], entries[index:])
	entries[index] = entry

	return entries
}

func removeBytesAt(entries [][]byte, index int) [][]byte {
	copy(entries[index:], entries[index + 1:])
	return entries[:len(entries) - 1]
}

package mvmap

import "bytes"
import "errors"
import "fmt"
import "strconv"
import "sync/atomic"
import "unsafe"


//============================================= MVMap


var ErrNilKey = errors.New("nil keys are forbidden")
var ErrNilValue = errors.New("nil values are forbidden")
var ErrMapClosed = errors.New("map is closed")
var ErrReadOnly = errors.New("map is read-only")
var ErrVersionUnknown = errors.New("version is unknown or no longer retained")
var ErrIncompatibleType = errors.New("incompatible map type")
var ErrStoreClosed = errors.New("store is closed")

// NumericStringCompare orders keys that both parse as decimals numerically and
//	falls back to the byte order otherwise. Offered as an opt-in comparator; the core
//	never assumes anything about keys beyond the injected total order.
func NumericStringCompare(a, b []byte) int {
	aNum, aErr := strconv.ParseFloat(string(a), 64)
	bNum, bErr := strconv.ParseFloat(string(b), 64)

	if aErr == nil && bErr == nil {
		switch {
			case aNum < bNum:
				return -1
			case aNum > bNum:
				return 1
			default:
				return bytes.Compare(a, b)
		}
	}

	return bytes.Compare(a, b)
}

// newMVMap
//	Wires a map around its initial root page. Invoked by the store with a fresh empty leaf
//	for new maps, or with the root recovered from the backing file on reopen.
func newMVMap(store *MVStore, name string, id uint32, createVersion, rootVersion uint64, root *MVPage, opts *MVMapOpts) (*MVMap, error) {
	mapOpts := opts
	if mapOpts == nil { mapOpts = &MVMapOpts{} }

	if mapOpts.Type != "" && mapOpts.Type != "ordered" {
		return nil, fmt.Errorf("map type %q: %w", mapOpts.Type, ErrIncompatibleType)
	}

	compare := mapOpts.Compare
	if compare == nil { compare = bytes.Compare }

	mvMap := &MVMap{
		store: store,
		name: name,
		id: id,
		createVersion: createVersion,
		compare: compare,
		keysPerPage: store.keysPerPage,
		maxPageSize: store.maxPageSize,
		singleWriter: mapOpts.SingleWriter,
	}

	if mvMap.singleWriter {
		mvMap.keysBuffer = make([][]byte, mvMap.keysPerPage)
		mvMap.valuesBuffer = make([][]byte, mvMap.keysPerPage)
	}

	mvMap.rootRef = unsafe.Pointer(newRootReference(root, rootVersion))
	return mvMap, nil
}

// Name returns the name the map was opened under.
func (mvMap *MVMap) Name() string {
	return mvMap.name
}

// Id returns the store-assigned map id.
func (mvMap *MVMap) Id() uint32 {
	return mvMap.id
}

// CreateVersion returns the store version at which the map was created.
func (mvMap *MVMap) CreateVersion() uint64 {
	return mvMap.createVersion
}

// Size returns the number of entries, including any staged appends.
func (mvMap *MVMap) Size() int64 {
	ref := mvMap.loadRoot()
	return ref.root.totalCount() + int64(ref.appendCounter)
}

// SizeInt returns the entry count as an int, for callers that cannot overflow it.
func (mvMap *MVMap) SizeInt() int {
	return int(mvMap.Size())
}

// IsEmpty reports whether the map holds no entries.
func (mvMap *MVMap) IsEmpty() bool {
	return mvMap.Size() == 0
}

// IsClosed reports whether the map was closed.
func (mvMap *MVMap) IsClosed() bool {
	return atomic.LoadUint32(&mvMap.closed) == 1
}

// IsReadOnly reports whether the map rejects writes, true for snapshots from OpenVersion.
func (mvMap *MVMap) IsReadOnly() bool {
	return mvMap.readOnly
}

// IsVolatile reports whether the map is excluded from commit persistence.
func (mvMap *MVMap) IsVolatile() bool {
	return atomic.LoadUint32(&mvMap.isVolatile) == 1
}

// SetVolatile toggles exclusion from commit persistence.
func (mvMap *MVMap) SetVolatile(isVolatile bool) {
	if isVolatile {
		atomic.StoreUint32(&mvMap.isVolatile, 1)
	} else { atomic.StoreUint32(&mvMap.isVolatile, 0) }
}

// Close marks the map closed. Writes fail from the next beforeWrite on; the data stays
//	registered until it ages out of the retention window and the store deregisters it.
func (mvMap *MVMap) Close() {
	atomic.StoreUint32(&mvMap.closed, 1)
}

// Clear removes every entry by swapping in an empty root under the logical lock.
func (mvMap *MVMap) Clear() error {
	beforeWriteErr := mvMap.store.beforeWrite(mvMap)
	if beforeWriteErr != nil { return beforeWriteErr }

	ownerId := nextOwnerId()
	locked := mvMap.lockRoot(ownerId)

	freed := mvMap.removeAllRecursive(locked.root, locked.version)
	empty := newLeafPage(mvMap.id, nil, nil)

	mvMap.unlockAndUpdate(locked, empty, 0, 1)
	mvMap.store.registerUnsavedMemory(freed + empty.memory)

	return nil
}

// CopyFrom bulk-copies every entry of source into this map in key order.
//	The source store version is pinned for the duration so the scanned snapshot
//	stays reachable even while commits advance.
func (mvMap *MVMap) CopyFrom(source *MVMap) error {
	token := source.store.registerVersionUsage()
	defer source.store.deregisterVersionUsage(token)

	cursor, cursorErr := source.Cursor(nil)
	if cursorErr != nil { return cursorErr }

	for {
		key, value, ok := cursor.Next()
		if ! ok { return cursor.Err() }

		_, putErr := mvMap.Put(key, value)
		if putErr != nil { return putErr }
	}
}

// rewritePage
//	Reproduces every live entry under page on fresh unsaved pages by re-putting each entry
//	with its own value. After a full rewrite nothing in the tree references old saved regions,
//	which is what lets compaction drop them. Returns the number of entries rewritten.
func (mvMap *MVMap) rewritePage(page *MVPage) (int, error) {
	if page.isLeaf { return mvMap.rewriteLeaf(page) }
	return mvMap.rewriteNode(page)
}

// rewriteLeaf
//	The leaf-position rewrite: every entry goes back through operate with a rewrite decision.
func (mvMap *MVMap) rewriteLeaf(page *MVPage) (int, error) {
	rewritten := 0

	for idx := range page.keys {
		decisionMaker := &rewriteDecisionMaker{}

		_, opErr := mvMap.operate(page.keys[idx], nil, decisionMaker)
		if opErr != nil { return rewritten, opErr }

		if decisionMaker.decided { rewritten++ }
	}

	return rewritten, nil
}

// rewriteNode
//	The internal-position rewrite: descends into every child subtree in order.
func (mvMap *MVMap) rewriteNode(page *MVPage) (int, error) {
	rewritten := 0

	for idx := range page.children {
		child, childErr := mvMap.getChildPage(page, idx)
		if childErr != nil { return rewritten, childErr }

		count, rewriteErr := mvMap.rewritePage(child)
		rewritten += count
		if rewriteErr != nil { return rewritten, rewriteErr }
	}

	return rewritten, nil
}

// validate
//	Walks the published tree checking the structural invariants: strictly ascending keys,
//	child count one past key count, and cached subtree counts consistent with the children.
//	Used by tests; the store does not call it.
func (mvMap *MVMap) validate() error {
	ref := mvMap.loadRoot()
	_, validateErr := mvMap.validatePage(ref.root)

	return validateErr
}

func (mvMap *MVMap) validatePage(page *MVPage) (int64, error) {
	for idx := 1; idx < len(page.keys); idx++ {
		if mvMap.compare(page.keys[idx - 1], page.keys[idx]) >= 0 {
			return 0, fmt.Errorf("map %s: keys out of order at index %d", mvMap.name, idx)
		}
	}

	if page.isLeaf {
		if len(page.keys) != len(page.values) {
			return 0, fmt.Errorf("map %s: leaf key count %d != value count %d", mvMap.name, len(page.keys), len(page.values))
		}

		if len(page.keys) > mvMap.keysPerPage {
			return 0, fmt.Errorf("map %s: leaf holds %d keys over the %d cap", mvMap.name, len(page.keys), mvMap.keysPerPage)
		}

		return int64(len(page.keys)), nil
	}

	if len(page.children) != len(page.keys) + 1 {
		return 0, fmt.Errorf("map %s: node child count %d != key count %d + 1", mvMap.name, len(page.children), len(page.keys))
	}

	var total int64

	for idx, childRef := range page.children {
		child, childErr := mvMap.getChildPage(page, idx)
		if childErr != nil { return 0, childErr }

		childTotal, validateErr := mvMap.validatePage(child)
		if validateErr != nil { return 0, validateErr }

		if childTotal != childRef.count {
			return 0, fmt.Errorf("map %s: cached child count %d != actual %d", mvMap.name, childRef.count, childTotal)
		}

		total += childTotal
	}

	if total != page.totalCount() {
		return 0, fmt.Errorf("map %s: node total %d != sum of children %d", mvMap.name, page.totalCount(), total)
	}

	return total, nil
}

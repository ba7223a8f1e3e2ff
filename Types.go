package mvmap

import "os"
import "sync"
import "sync/atomic"
import "unsafe"


// MVComparator imposes the total order over keys.
//	Both arguments are non-nil keys. Negative means a < b, zero means equal, positive means a > b.
type MVComparator = func(a, b []byte) int

// MVDecision is the verdict a decision maker hands back at the tip of a traversal.
type MVDecision byte

const (
	// DecisionAbort: leave the map untouched and return the existing value
	DecisionAbort MVDecision = iota
	// DecisionRemove: remove the entry at the traversal tip
	DecisionRemove
	// DecisionPut: insert or overwrite the entry at the traversal tip
	DecisionPut
	// DecisionRepeat: discard the attempt and traverse again from the root
	DecisionRepeat
)

// MVDecisionMaker is the strategy consulted by operate once the target leaf position is known.
type MVDecisionMaker interface {
	// Decide: choose what operate should do with the entry at the traversal tip. existing is nil when the key is absent.
	Decide(existing, provided []byte) MVDecision
	// SelectValue: on DecisionPut, shape the value that is actually stored
	SelectValue(existing, provided []byte) []byte
	// Reset: called before a repeated attempt so stateful strategies can start over
	Reset()
}

// MVPageRef is a reference from an internal page to one child subtree.
type MVPageRef struct {
	// pos: the saved position of the child in the backing file, 0 when the child was never saved
	pos uint64
	// count: cached total number of leaf entries in the child subtree
	count int64
	// page: the resident child page, stored as *MVPage. nil until resolved through the store
	page unsafe.Pointer
}

// MVPage is one immutable node of the copy-on-write B+tree.
type MVPage struct {
	// mapId: id of the owning map
	mapId uint32
	// isLeaf: leaf pages carry values, internal pages carry child references
	isLeaf bool
	// pos: position of the serialized page in the backing file, 0 while unsaved
	pos uint64
	// memory: running in-memory byte estimate, maintained incrementally on every mutation
	memory int64
	// keys: sorted keys, strictly ascending under the map comparator
	keys [][]byte
	// values: parallel to keys, leaf pages only
	values [][]byte
	// children: child references, internal pages only. len(children) == len(keys) + 1
	children []*MVPageRef
}

// MVCursorPos is one frame of the bottom-up trail recording a root-to-leaf traversal.
type MVCursorPos struct {
	// page: the page visited at this level
	page *MVPage
	// index: for the leaf frame the binary search result, for parent frames the child index descended into
	index int
	// parent: the frame one level closer to the root, nil at the root
	parent *MVCursorPos
}

// MVRootReference is the immutable snapshot of a map's published state.
//	Every mutation, lock transition and version advance publishes a fresh instance by CAS on the map's root cell.
type MVRootReference struct {
	// root: the published root page
	root *MVPage
	// version: the write version the root belongs to, monotonic per map
	version uint64
	// previous: back link to the last root reference of an older version that carried data changes, stored as *MVRootReference
	previous unsafe.Pointer
	// updateCounter: successful root updates since the map was opened
	updateCounter int64
	// updateAttemptCounter: attempted root updates, used to scale the contention backoff
	updateAttemptCounter int64
	// holdCount: logical reentrant lock depth, 0 when unlocked
	holdCount uint8
	// ownerId: token identifying the lock holder, only meaningful while holdCount > 0
	ownerId uint64
	// appendCounter: fill of the single-writer append buffer logically trailing the rightmost leaf
	appendCounter uint16
}

// KeyValuePair is a single entry yielded by cursors and scans.
type KeyValuePair struct {
	Key []byte
	Value []byte
}

// MVMap is a multi-version concurrent ordered map over copy-on-write B+tree pages.
type MVMap struct {
	// store: the owning store, consulted for page io, memory pressure and version retention
	store *MVStore
	// name: the name the map was opened under
	name string
	// id: store-assigned map id
	id uint32
	// createVersion: store version at which the map was created
	createVersion uint64
	// rootRef: the atomic root cell, stored as *MVRootReference. The single publication point for all mutations
	rootRef unsafe.Pointer
	// compare: injected total order over keys
	compare MVComparator
	// keysPerPage: split threshold on entries per page
	keysPerPage int
	// maxPageSize: split threshold on the in-memory byte estimate of a page
	maxPageSize int64
	// singleWriter: enables the append buffer fast path
	singleWriter bool
	// keysBuffer: append buffer keys, only accessed by the lock holder
	keysBuffer [][]byte
	// valuesBuffer: append buffer values, only accessed by the lock holder
	valuesBuffer [][]byte
	// closed: atomic flag set once the map is closed
	closed uint32
	// readOnly: snapshots opened through OpenVersion reject writes
	readOnly bool
	// isVolatile: atomic flag, volatile maps are skipped by commit persistence
	isVolatile uint32
	// notifyLock: guards notifyChan replacement
	notifyLock sync.Mutex
	// notifyChan: closed by unlockers to wake writers parked in the contention ladder
	notifyChan chan struct{}
	// notifyWaiters: atomic count of writers that requested an unlock notification
	notifyWaiters int32
}

// MVMapOpts configures a map at open time.
type MVMapOpts struct {
	// Compare: total order over keys, defaults to bytes.Compare
	Compare MVComparator
	// SingleWriter: maintain an append buffer past the rightmost leaf. Appends are not safe with concurrent mutators
	SingleWriter bool
	// Type: map type tag, empty or "ordered". Anything else is rejected
	Type string
}

// MVStoreOpts configures a store at open time.
type MVStoreOpts struct {
	// Filepath: directory for the backing file. Empty opens a pure in-memory store
	Filepath string
	// FileName: name of the backing file inside Filepath
	FileName string
	// KeysPerPage: entries per page before a split, defaults to DefaultKeysPerPage
	KeysPerPage *int
	// MaxPageSize: byte estimate per page before a split, defaults to DefaultMaxPageSize
	MaxPageSize *int64
	// VersionsToKeep: how many committed versions stay reachable for snapshots and rollback
	VersionsToKeep *uint64
	// AutoCommitMemory: unsaved memory threshold that triggers a commit on the next write
	AutoCommitMemory *int64
	// PagePoolSize: max recycled pages kept by the page pool
	PagePoolSize *int64
}

// MVStore multiplexes named MVMaps over one process-wide store and owns the backing file.
type MVStore struct {
	// filepath: directory of the backing file
	filepath string
	// file: the backing file, nil for in-memory stores
	file *os.File
	// opened: flag indicating the store accepts operations
	opened bool
	// data: the memory mapped backing file as mmap.MMap
	data atomic.Value
	// isResizing: atomic flag raised while the mem map is being resized or swapped
	isResizing uint32
	// rwResizeLock: read-write mutex fencing page reads against resize operations
	rwResizeLock sync.RWMutex
	// signalFlushChan: signals the background goroutine to sync the file to disk
	signalFlushChan chan bool
	// commitLock: serializes commit, compact and close
	commitLock sync.Mutex
	// mapsLock: guards the map registries
	mapsLock sync.RWMutex
	// maps: open maps by name
	maps map[string]*MVMap
	// mapsById: open maps by id
	mapsById map[uint32]*MVMap
	// lastMapId: atomic id allocator
	lastMapId uint32
	// currentVersion: atomic store version, advanced by commit
	currentVersion uint64
	// oldestVersionToKeep: atomic floor below which versions may be pruned
	oldestVersionToKeep uint64
	// versionsToKeep: retention window behind the current version
	versionsToKeep uint64
	// versionUsageLock: guards the snapshot pin registry
	versionUsageLock sync.Mutex
	// versionUsage: pinned versions by usage token
	versionUsage map[uint64]uint64
	// versionUsageSeq: atomic usage token allocator
	versionUsageSeq uint64
	// unsavedMemory: atomic running estimate of memory not yet committed
	unsavedMemory int64
	// freedMemory: atomic running estimate of saved page space made unreachable, reset by compaction
	freedMemory int64
	// recovered: directory entries read from the backing file, consumed as maps are reopened
	recovered map[string]mapDirectoryEntry
	// autoCommitMemory: unsaved memory threshold checked in beforeWrite
	autoCommitMemory int64
	// keysPerPage: per-store entries-per-page cap handed to maps
	keysPerPage int
	// maxPageSize: per-store byte cap handed to maps
	maxPageSize int64
	// pagePool: recycled page structs for copy-on-write copies
	pagePool *MVPagePool
}

// MVStoreMetaData mirrors the first 24 bytes of the memory mapped file.
type MVStoreMetaData struct {
	// version: last committed store version
	version uint64
	// directoryOffset: offset of the serialized map directory for that version
	directoryOffset uint64
	// nextStartOffset: offset where the next page append begins
	nextStartOffset uint64
}

// MVPagePool recycles page structs so copy-on-write churn does not hammer the garbage collector.
type MVPagePool struct {
	// maxSize: the max number of pooled pages
	maxSize int64
	// size: the current number of pooled pages
	size int64
	// pagePool: the underlying sync.Pool
	pagePool *sync.Pool
}

const (
	// DefaultKeysPerPage caps entries per page before a split
	DefaultKeysPerPage = 48
	// DefaultMaxPageSize caps the in-memory byte estimate per page before a split
	DefaultMaxPageSize = int64(16 * 1024)
	// DefaultVersionsToKeep is the retention window for snapshots and rollback
	DefaultVersionsToKeep = uint64(5)
	// DefaultAutoCommitMemory is the unsaved memory threshold that triggers a commit
	DefaultAutoCommitMemory = int64(4 * 1024 * 1024)
	// DefaultPagePoolSize is the max recycled pages kept by the page pool
	DefaultPagePoolSize = int64(10000)
)

const (
	// Index of the store version in the serialized metadata
	MetaVersionIdx = 0
	// Index of the directory offset in the serialized metadata
	MetaDirectoryOffsetIdx = 8
	// Index of the next page append offset in the serialized metadata
	MetaNextStartOffsetIdx = 16
	// Total size of the serialized metadata region
	MetaSize = 24
	// OffsetSize for uint64 fields in serialized pages
	OffsetSize = 8
	// Offset in the file where serialized pages begin
	InitStartOffset = uint64(MetaSize)
	// 1 GB max growth step when resizing the mem map
	MaxResize = 1000000000
)

const (
	// pageBaseMemory approximates the fixed in-memory cost of a page struct
	pageBaseMemory = int64(128)
	// pageEntryMemory approximates the per-entry slice and header overhead
	pageEntryMemory = int64(48)
	// pageChildMemory approximates the per-child reference overhead
	pageChildMemory = int64(32)
)

const (
	// spinAttempts: root CAS attempts before the ladder starts yielding
	spinAttempts = 4
	// yieldAttempts: attempts spent yielding the processor before sleeping
	yieldAttempts = 12
	// maxBackoffMicros: cap in microseconds on one proportional contention sleep
	maxBackoffMicros = 5000
)

// DefaultPageSize is the page size set by the underlying OS, usually 4KiB.
var DefaultPageSize = os.Getpagesize()

// lockOwnerSeq hands out process-wide owner tokens for the logical root lock.
var lockOwnerSeq uint64

// nextOwnerId draws a fresh owner token for one locked call path.
func nextOwnerId() uint64 {
	return atomic.AddUint64(&lockOwnerSeq, 1)
}

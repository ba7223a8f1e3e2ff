package mvmap

import "errors"
import "sync/atomic"
import "unsafe"

import "github.com/sirgallo/mvmap/common/mmap"


//============================================= MVStore Metadata


// loadMetaField
//	Load a single uint64 metadata field from the memory map with a pointer for later atomic stores.
func (mvStore *MVStore) loadMetaField(index uint64) (ptr *uint64, value uint64, err error) {
	defer func() {
		r := recover()
		if r != nil {
			ptr = nil
			value = 0
			err = errors.New("error reading metadata from mmap")
		}
	}()

	mMap := mvStore.data.Load().(mmap.MMap)
	fieldPtr := (*uint64)(unsafe.Pointer(&mMap[index]))

	return fieldPtr, atomic.LoadUint64(fieldPtr), nil
}

// loadMetaVersion
//	Load the last committed store version from the metadata region.
func (mvStore *MVStore) loadMetaVersion() (*uint64, uint64, error) {
	return mvStore.loadMetaField(MetaVersionIdx)
}

// loadMetaDirectoryOffset
//	Load the offset of the serialized map directory from the metadata region.
func (mvStore *MVStore) loadMetaDirectoryOffset() (*uint64, uint64, error) {
	return mvStore.loadMetaField(MetaDirectoryOffsetIdx)
}

// loadMetaNextStartOffset
//	Load the offset where the next page append begins from the metadata region.
func (mvStore *MVStore) loadMetaNextStartOffset() (*uint64, uint64, error) {
	return mvStore.loadMetaField(MetaNextStartOffsetIdx)
}

// storeMetaPointer
//	Atomically store a metadata field through a pointer obtained from a load.
func (mvStore *MVStore) storeMetaPointer(ptr *uint64, value uint64) {
	atomic.StoreUint64(ptr, value)
}

// readMetaFromMemMap
//	Read and deserialize the whole metadata object from the memory map.
func (mvStore *MVStore) readMetaFromMemMap() (meta *MVStoreMetaData, err error) {
	defer func() {
		r := recover()
		if r != nil {
			meta = nil
			err = errors.New("error reading metadata from mmap")
		}
	}()

	mMap := mvStore.data.Load().(mmap.MMap)
	return deserializeMetaData(mMap[MetaVersionIdx:MetaSize])
}

// writeMetaToMemMap
//	Copy the serialized metadata into the head of the memory map.
func (mvStore *MVStore) writeMetaToMemMap(sMeta []byte) (ok bool, err error) {
	defer func() {
		r := recover()
		if r != nil {
			ok = false
			err = errors.New("error writing metadata to mmap")
		}
	}()

	mMap := mvStore.data.Load().(mmap.MMap)
	copy(mMap[MetaVersionIdx:MetaSize], sMeta)

	return true, nil
}

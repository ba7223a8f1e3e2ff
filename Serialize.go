package mvmap

import "encoding/binary"
import "errors"


//============================================= MVStore Serialization


const (
	// Index of the total length field in a serialized page
	pageLengthIdx = 0
	// Index of the flags byte in a serialized page
	pageFlagsIdx = 4
	// Index of the key count in a serialized page
	pageKeyCountIdx = 5
	// Index of the owning map id in a serialized page
	pageMapIdIdx = 7
	// Size of the fixed serialized page header
	pageHeaderSize = 11
	// Flag bit marking a leaf page
	pageFlagLeaf = byte(1)
)

// mapDirectoryEntry is one row of the map directory written on commit.
type mapDirectoryEntry struct {
	id uint32
	createVersion uint64
	rootPos uint64
	singleWriter bool
	name string
}

// serializeMetaData
//	Serialize the metadata for the first 0-23 bytes of the memory map.
//	Version, directory offset and next append offset are 8 bytes each.
func (meta *MVStoreMetaData) serializeMetaData() []byte {
	sMeta := make([]byte, 0, MetaSize)

	sMeta = append(sMeta, serializeUint64(meta.version)...)
	sMeta = append(sMeta, serializeUint64(meta.directoryOffset)...)
	sMeta = append(sMeta, serializeUint64(meta.nextStartOffset)...)

	return sMeta
}

// deserializeMetaData
//	Deserialize the byte representation of the metadata object in the memory mapped file.
func deserializeMetaData(sMeta []byte) (*MVStoreMetaData, error) {
	if len(sMeta) != MetaSize { return nil, errors.New("meta data incorrect size") }

	version := binary.LittleEndian.Uint64(sMeta[MetaVersionIdx:MetaDirectoryOffsetIdx])
	directoryOffset := binary.LittleEndian.Uint64(sMeta[MetaDirectoryOffsetIdx:MetaNextStartOffsetIdx])
	nextStartOffset := binary.LittleEndian.Uint64(sMeta[MetaNextStartOffsetIdx:MetaSize])

	return &MVStoreMetaData{
		version: version,
		directoryOffset: directoryOffset,
		nextStartOffset: nextStartOffset,
	}, nil
}

// serializePage
//	Serialize a single page. Leaf entries are written as length-prefixed key/value pairs,
//	internal pages as length-prefixed separator keys followed by child positions and
//	cached subtree counts. Child positions must be stamped before the parent is serialized.
func serializePage(page *MVPage) []byte {
	var payload []byte

	if page.isLeaf {
		for idx := range page.keys {
			payload = append(payload, serializeUint16(uint16(len(page.keys[idx])))...)
			payload = append(payload, serializeUint32(uint32(len(page.values[idx])))...)
			payload = append(payload, page.keys[idx]...)
			payload = append(payload, page.values[idx]...)
		}
	} else {
		for _, key := range page.keys {
			payload = append(payload, serializeUint16(uint16(len(key)))...)
			payload = append(payload, key...)
		}

		for _, ref := range page.children {
			payload = append(payload, serializeUint64(ref.pos)...)
			payload = append(payload, serializeUint64(uint64(ref.count))...)
		}
	}

	flags := byte(0)
	if page.isLeaf { flags |= pageFlagLeaf }

	sPage := make([]byte, 0, pageHeaderSize + len(payload))
	sPage = append(sPage, serializeUint32(uint32(pageHeaderSize + len(payload)))...)
	sPage = append(sPage, flags)
	sPage = append(sPage, serializeUint16(uint16(len(page.keys)))...)
	sPage = append(sPage, serializeUint32(page.mapId)...)
	sPage = append(sPage, payload...)

	return sPage
}

// deserializePage
//	Deserialize the byte representation of a page. Key and value bytes are copied out of
//	the mapped region since the mapping can be swapped by resize or compaction.
func deserializePage(sPage []byte) (*MVPage, error) {
	if len(sPage) < pageHeaderSize { return nil, errors.New("serialized page shorter than its header") }

	flags := sPage[pageFlagsIdx]
	keyCount := int(binary.LittleEndian.Uint16(sPage[pageKeyCountIdx:pageMapIdIdx]))
	mapId := binary.LittleEndian.Uint32(sPage[pageMapIdIdx:pageHeaderSize])

	cursor := pageHeaderSize

	if flags & pageFlagLeaf != 0 {
		keys := make([][]byte, 0, keyCount)
		values := make([][]byte, 0, keyCount)

		for idx := 0; idx < keyCount; idx++ {
			if cursor + 6 > len(sPage) { return nil, errors.New("serialized leaf entry header out of bounds") }

			keyLength := int(binary.LittleEndian.Uint16(sPage[cursor:cursor + 2]))
			valueLength := int(binary.LittleEndian.Uint32(sPage[cursor + 2:cursor + 6]))
			cursor += 6

			if cursor + keyLength + valueLength > len(sPage) { return nil, errors.New("serialized leaf entry out of bounds") }

			keys = append(keys, copyBytes(sPage[cursor:cursor + keyLength]))
			cursor += keyLength

			values = append(values, copyBytes(sPage[cursor:cursor + valueLength]))
			cursor += valueLength
		}

		return newLeafPage(mapId, keys, values), nil
	}

	keys := make([][]byte, 0, keyCount)

	for idx := 0; idx < keyCount; idx++ {
		if cursor + 2 > len(sPage) { return nil, errors.New("serialized node key header out of bounds") }

		keyLength := int(binary.LittleEndian.Uint16(sPage[cursor:cursor + 2]))
		cursor += 2

		if cursor + keyLength > len(sPage) { return nil, errors.New("serialized node key out of bounds") }

		keys = append(keys, copyBytes(sPage[cursor:cursor + keyLength]))
		cursor += keyLength
	}

	children := make([]*MVPageRef, 0, keyCount + 1)

	for idx := 0; idx < keyCount + 1; idx++ {
		if cursor + 2 * OffsetSize > len(sPage) { return nil, errors.New("serialized child reference out of bounds") }

		childPos := binary.LittleEndian.Uint64(sPage[cursor:cursor + OffsetSize])
		childCount := binary.LittleEndian.Uint64(sPage[cursor + OffsetSize:cursor + 2 * OffsetSize])
		cursor += 2 * OffsetSize

		children = append(children, &MVPageRef{ pos: childPos, count: int64(childCount) })
	}

	return newInternalPage(mapId, keys, children), nil
}

// serializeTree
//	Appends every unsaved page of the subtree rooted at page to the buffer in post order,
//	stamping positions as it goes so parents serialize with resolved child offsets.
//	Children whose reference already carries a saved position keep it and are not rewritten;
//	a saved page reached through a fresh reference is serialized again at a new position.
func serializeTree(page *MVPage, buf []byte, base uint64) ([]byte, error) {
	if ! page.isLeaf {
		for _, ref := range page.children {
			if ref.pos != 0 { continue }

			child := ref.resident()
			if child == nil { return nil, errors.New("unsaved child reference with no resident page") }

			childBuf, serializeErr := serializeTree(child, buf, base)
			if serializeErr != nil { return nil, serializeErr }

			buf = childBuf
			ref.pos = child.pos
		}
	}

	page.pos = base + uint64(len(buf))
	buf = append(buf, serializePage(page)...)

	return buf, nil
}

// serializeDirectory
//	Serialize the map directory written after the page region on every commit.
func serializeDirectory(entries []mapDirectoryEntry) []byte {
	var payload []byte

	payload = append(payload, serializeUint32(uint32(len(entries)))...)

	for _, entry := range entries {
		payload = append(payload, serializeUint32(entry.id)...)
		payload = append(payload, serializeUint64(entry.createVersion)...)
		payload = append(payload, serializeUint64(entry.rootPos)...)

		singleWriter := byte(0)
		if entry.singleWriter { singleWriter = 1 }
		payload = append(payload, singleWriter)

		payload = append(payload, serializeUint16(uint16(len(entry.name)))...)
		payload = append(payload, []byte(entry.name)...)
	}

	sDirectory := make([]byte, 0, 4 + len(payload))
	sDirectory = append(sDirectory, serializeUint32(uint32(4 + len(payload)))...)
	sDirectory = append(sDirectory, payload...)

	return sDirectory
}

// deserializeDirectory
//	Deserialize the map directory starting at the head of the provided region.
func deserializeDirectory(sDirectory []byte) ([]mapDirectoryEntry, error) {
	if len(sDirectory) < 8 { return nil, errors.New("serialized directory shorter than its header") }

	total := int(binary.LittleEndian.Uint32(sDirectory[0:4]))
	if total > len(sDirectory) { return nil, errors.New("serialized directory length out of bounds") }

	count := int(binary.LittleEndian.Uint32(sDirectory[4:8]))
	cursor := 8

	entries := make([]mapDirectoryEntry, 0, count)

	for idx := 0; idx < count; idx++ {
		if cursor + 23 > total { return nil, errors.New("serialized directory entry out of bounds") }

		entry := mapDirectoryEntry{}
		entry.id = binary.LittleEndian.Uint32(sDirectory[cursor:cursor + 4])
		entry.createVersion = binary.LittleEndian.Uint64(sDirectory[cursor + 4:cursor + 12])
		entry.rootPos = binary.LittleEndian.Uint64(sDirectory[cursor + 12:cursor + 20])
		entry.singleWriter = sDirectory[cursor + 20] == 1
		cursor += 21

		nameLength := int(binary.LittleEndian.Uint16(sDirectory[cursor:cursor + 2]))
		cursor += 2

		if cursor + nameLength > total { return nil, errors.New("serialized directory name out of bounds") }

		entry.name = string(sDirectory[cursor:cursor + nameLength])
		cursor += nameLength

		entries = append(entries, entry)
	}

	return entries, nil
}


//============================================= Helper Functions for Serialize/Deserialize primitives


func serializeUint64(in uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, in)
	return buf
}

func serializeUint32(in uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, in)
	return buf
}

func serializeUint16(in uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, in)
	return buf
}

func copyBytes(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

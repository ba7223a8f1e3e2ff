package mvmap

import "bytes"
import "testing"


func TestMVCursorTraversal(t *testing.T) {
	store := openMemoryStore(t, 6)
	defer store.Close()

	mvMap, openErr := store.OpenMap("scan", nil)
	if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

	for idx := 0; idx < 200; idx++ {
		_, putErr := mvMap.Put(paddedKey(idx), paddedKey(idx))
		if putErr != nil { t.Errorf("error on put: %s", putErr.Error()) }
	}

	t.Run("Test Full Forward Scan", func(t *testing.T) {
		cursor, cursorErr := mvMap.Cursor(nil)
		if cursorErr != nil { t.Fatalf("error opening cursor: %s", cursorErr.Error()) }

		expected := 0
		for {
			key, value, ok := cursor.Next()
			if ! ok { break }

			if ! bytes.Equal(key, paddedKey(expected)) { t.Errorf("scan out of order at %d: got %s", expected, key) }
			if ! bytes.Equal(value, paddedKey(expected)) { t.Errorf("scan value mismatch at %d: got %s", expected, value) }

			expected++
		}

		if cursor.Err() != nil { t.Errorf("error during scan: %s", cursor.Err().Error()) }
		if expected != 200 { t.Errorf("scan yielded %d entries, expected 200", expected) }
	})

	t.Run("Test Bounded Range Scan", func(t *testing.T) {
		cursor, cursorErr := mvMap.CursorRange(paddedKey(50), paddedKey(59), false)
		if cursorErr != nil { t.Fatalf("error opening cursor: %s", cursorErr.Error()) }

		expected := 50
		for {
			key, _, ok := cursor.Next()
			if ! ok { break }

			if ! bytes.Equal(key, paddedKey(expected)) { t.Errorf("range scan out of order at %d: got %s", expected, key) }
			expected++
		}

		if expected != 60 { t.Errorf("range scan yielded up to %d, expected bound 60", expected) }
	})

	t.Run("Test Reverse Scan", func(t *testing.T) {
		cursor, cursorErr := mvMap.CursorRange(paddedKey(10), paddedKey(5), true)
		if cursorErr != nil { t.Fatalf("error opening cursor: %s", cursorErr.Error()) }

		expected := 10
		for {
			key, _, ok := cursor.Next()
			if ! ok { break }

			if ! bytes.Equal(key, paddedKey(expected)) { t.Errorf("reverse scan out of order at %d: got %s", expected, key) }
			expected--
		}

		if expected != 4 { t.Errorf("reverse scan stopped at %d, expected to finish past 5", expected + 1) }
	})

	t.Run("Test Reverse Iterator From End", func(t *testing.T) {
		cursor, cursorErr := mvMap.KeyIteratorReverse(nil)
		if cursorErr != nil { t.Fatalf("error opening cursor: %s", cursorErr.Error()) }

		key, _, ok := cursor.Next()
		if ! ok { t.Fatal("expected the reverse iterator to yield the last key") }
		if ! bytes.Equal(key, paddedKey(199)) { t.Errorf("expected last key first in reverse, got %s", key) }
	})

	t.Run("Test Cursor Snapshot Stability", func(t *testing.T) {
		cursor, cursorErr := mvMap.Cursor(nil)
		if cursorErr != nil { t.Fatalf("error opening cursor: %s", cursorErr.Error()) }

		for idx := 0; idx < 200; idx++ {
			_, putErr := mvMap.Put(paddedKey(idx), []byte("overwritten"))
			if putErr != nil { t.Errorf("error on put: %s", putErr.Error()) }
		}

		expected := 0
		for {
			key, value, ok := cursor.Next()
			if ! ok { break }

			if ! bytes.Equal(value, paddedKey(expected)) {
				t.Errorf("cursor observed a concurrent write for key %s: %s", key, value)
			}

			expected++
		}

		if expected != 200 { t.Errorf("snapshot scan yielded %d entries, expected 200", expected) }
	})
}

func TestMVMapOrderedKeyQueries(t *testing.T) {
	store := openMemoryStore(t, 4)
	defer store.Close()

	mvMap, openErr := store.OpenMap("neighbors", nil)
	if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

	// even keys only, so odd probes exercise the miss paths
	for idx := 0; idx < 100; idx += 2 {
		_, putErr := mvMap.Put(paddedKey(idx), paddedKey(idx))
		if putErr != nil { t.Errorf("error on put: %s", putErr.Error()) }
	}

	t.Run("Test Higher And Ceiling", func(t *testing.T) {
		higher, higherErr := mvMap.HigherKey(paddedKey(10))
		if higherErr != nil { t.Errorf("error on higher key: %s", higherErr.Error()) }
		if ! bytes.Equal(higher, paddedKey(12)) { t.Errorf("higher of present 10: got %s, expected 12", higher) }

		ceiling, ceilingErr := mvMap.CeilingKey(paddedKey(10))
		if ceilingErr != nil { t.Errorf("error on ceiling key: %s", ceilingErr.Error()) }
		if ! bytes.Equal(ceiling, paddedKey(10)) { t.Errorf("ceiling of present 10: got %s, expected 10", ceiling) }

		ceiling, ceilingErr = mvMap.CeilingKey(paddedKey(11))
		if ceilingErr != nil { t.Errorf("error on ceiling key: %s", ceilingErr.Error()) }
		if ! bytes.Equal(ceiling, paddedKey(12)) { t.Errorf("ceiling of absent 11: got %s, expected 12", ceiling) }

		missing, missingErr := mvMap.HigherKey(paddedKey(98))
		if missingErr != nil { t.Errorf("error on higher key: %s", missingErr.Error()) }
		if missing != nil { t.Errorf("higher of the largest key must be nil, got %s", missing) }
	})

	t.Run("Test Lower And Floor", func(t *testing.T) {
		lower, lowerErr := mvMap.LowerKey(paddedKey(10))
		if lowerErr != nil { t.Errorf("error on lower key: %s", lowerErr.Error()) }
		if ! bytes.Equal(lower, paddedKey(8)) { t.Errorf("lower of present 10: got %s, expected 8", lower) }

		floor, floorErr := mvMap.FloorKey(paddedKey(10))
		if floorErr != nil { t.Errorf("error on floor key: %s", floorErr.Error()) }
		if ! bytes.Equal(floor, paddedKey(10)) { t.Errorf("floor of present 10: got %s, expected 10", floor) }

		floor, floorErr = mvMap.FloorKey(paddedKey(11))
		if floorErr != nil { t.Errorf("error on floor key: %s", floorErr.Error()) }
		if ! bytes.Equal(floor, paddedKey(10)) { t.Errorf("floor of absent 11: got %s, expected 10", floor) }

		missing, missingErr := mvMap.LowerKey(paddedKey(0))
		if missingErr != nil { t.Errorf("error on lower key: %s", missingErr.Error()) }
		if missing != nil { t.Errorf("lower of the smallest key must be nil, got %s", missing) }
	})
}

func TestMVMapRankedAccess(t *testing.T) {
	store := openMemoryStore(t, 4)
	defer store.Close()

	mvMap, openErr := store.OpenMap("ranked", nil)
	if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

	for idx := 0; idx < 150; idx++ {
		_, putErr := mvMap.Put(paddedKey(idx), paddedKey(idx))
		if putErr != nil { t.Errorf("error on put: %s", putErr.Error()) }
	}

	t.Run("Test Rank Round Trip", func(t *testing.T) {
		for rank := int64(0); rank < 150; rank++ {
			key, keyErr := mvMap.GetKeyAtIndex(rank)
			if keyErr != nil { t.Errorf("error on key at index: %s", keyErr.Error()) }

			index, indexErr := mvMap.GetKeyIndex(key)
			if indexErr != nil { t.Errorf("error on key index: %s", indexErr.Error()) }

			if index != rank { t.Errorf("rank round trip broken at %d: got %d", rank, index) }
		}
	})

	t.Run("Test Insertion Rank Encoding", func(t *testing.T) {
		index, indexErr := mvMap.GetKeyIndex([]byte("99999999"))
		if indexErr != nil { t.Errorf("error on key index: %s", indexErr.Error()) }
		if index != -151 { t.Errorf("insertion rank past the end: got %d, expected -151", index) }

		index, indexErr = mvMap.GetKeyIndex([]byte("00000000x"))
		if indexErr != nil { t.Errorf("error on key index: %s", indexErr.Error()) }
		if index != -2 { t.Errorf("insertion rank after the first key: got %d, expected -2", index) }
	})

	t.Run("Test Out Of Range", func(t *testing.T) {
		key, keyErr := mvMap.GetKeyAtIndex(150)
		if keyErr != nil { t.Errorf("error on key at index: %s", keyErr.Error()) }
		if key != nil { t.Errorf("rank past the end must be nil, got %s", key) }
	})

	t.Run("Test Key List View", func(t *testing.T) {
		keyList := mvMap.KeyList()

		if keyList.Len() != 150 { t.Errorf("key list length: got %d, expected 150", keyList.Len()) }

		key, keyErr := keyList.Get(75)
		if keyErr != nil { t.Errorf("error on key list get: %s", keyErr.Error()) }
		if ! bytes.Equal(key, paddedKey(75)) { t.Errorf("key list rank 75: got %s", key) }

		index, indexErr := keyList.IndexOf(paddedKey(75))
		if indexErr != nil { t.Errorf("error on key list index of: %s", indexErr.Error()) }
		if index != 75 { t.Errorf("key list index of rank 75 key: got %d", index) }
	})
}

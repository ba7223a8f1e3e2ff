package mvmap

import "bytes"
import "fmt"
import "testing"


func TestMVMapSingleWriterAppend(t *testing.T) {
	store := openMemoryStore(t, 8)
	defer store.Close()

	mvMap, openErr := store.OpenMap("journal", &MVMapOpts{ SingleWriter: true })
	if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

	appendKey := func(idx int) []byte { return []byte(fmt.Sprintf("k%02d", idx)) }

	t.Run("Test Ordered Appends", func(t *testing.T) {
		for idx := 1; idx <= 99; idx++ {
			appendErr := mvMap.Append(appendKey(idx), []byte(fmt.Sprintf("v%d", idx)))
			if appendErr != nil { t.Errorf("error on append: %s", appendErr.Error()) }
		}

		if mvMap.Size() != 99 { t.Errorf("actual size not equal to expected: actual(%d), expected(%d)", mvMap.Size(), 99) }
	})

	t.Run("Test Reads Flush The Buffer", func(t *testing.T) {
		value, getErr := mvMap.Get(appendKey(50))
		if getErr != nil { t.Errorf("error on get: %s", getErr.Error()) }
		if ! bytes.Equal(value, []byte("v50")) { t.Errorf("actual value not equal to expected: actual(%s), expected(%s)", value, "v50") }

		lastKey, lastErr := mvMap.LastKey()
		if lastErr != nil { t.Errorf("error on last key: %s", lastErr.Error()) }
		if ! bytes.Equal(lastKey, appendKey(99)) { t.Errorf("actual last key not equal to expected: actual(%s), expected(%s)", lastKey, appendKey(99)) }

		validateErr := mvMap.validate()
		if validateErr != nil { t.Errorf("tree invariants violated after append flush: %s", validateErr.Error()) }
	})

	t.Run("Test Trim Last", func(t *testing.T) {
		for idx := 0; idx < 10; idx++ {
			trimErr := mvMap.TrimLast()
			if trimErr != nil { t.Errorf("error on trim last: %s", trimErr.Error()) }
		}

		if mvMap.Size() != 89 { t.Errorf("actual size not equal to expected: actual(%d), expected(%d)", mvMap.Size(), 89) }

		lastKey, lastErr := mvMap.LastKey()
		if lastErr != nil { t.Errorf("error on last key: %s", lastErr.Error()) }
		if ! bytes.Equal(lastKey, appendKey(89)) { t.Errorf("actual last key not equal to expected: actual(%s), expected(%s)", lastKey, appendKey(89)) }
	})

	t.Run("Test Trim From Buffer", func(t *testing.T) {
		appendErr := mvMap.Append([]byte("k99"), []byte("staged"))
		if appendErr != nil { t.Errorf("error on append: %s", appendErr.Error()) }

		if mvMap.loadRoot().appendCounter != 1 { t.Errorf("expected one staged append, counter %d", mvMap.loadRoot().appendCounter) }

		trimErr := mvMap.TrimLast()
		if trimErr != nil { t.Errorf("error on trim last: %s", trimErr.Error()) }

		if mvMap.Size() != 89 { t.Errorf("trimming a staged append must only drop the counter, size %d", mvMap.Size()) }
	})
}

func TestMVMapAppendEquivalence(t *testing.T) {
	store := openMemoryStore(t, 6)
	defer store.Close()

	appended, appendedErr := store.OpenMap("appended", &MVMapOpts{ SingleWriter: true })
	if appendedErr != nil { t.Fatalf("error opening map: %s", appendedErr.Error()) }

	inserted, insertedErr := store.OpenMap("inserted", nil)
	if insertedErr != nil { t.Fatalf("error opening map: %s", insertedErr.Error()) }

	for idx := 0; idx < 500; idx++ {
		appendErr := appended.Append(paddedKey(idx), paddedKey(idx))
		if appendErr != nil { t.Errorf("error on append: %s", appendErr.Error()) }

		_, putErr := inserted.Put(paddedKey(idx), paddedKey(idx))
		if putErr != nil { t.Errorf("error on put: %s", putErr.Error()) }
	}

	// force the staged tail into the tree before comparing states
	_, flushErr := appended.flushAndGetRoot()
	if flushErr != nil { t.Fatalf("error flushing append buffer: %s", flushErr.Error()) }

	if appended.Size() != inserted.Size() {
		t.Errorf("append and put sequences disagree on size: %d vs %d", appended.Size(), inserted.Size())
	}

	appendedEntries, appendedScanErr := appended.EntrySet()
	if appendedScanErr != nil { t.Fatalf("error scanning appended map: %s", appendedScanErr.Error()) }

	insertedEntries, insertedScanErr := inserted.EntrySet()
	if insertedScanErr != nil { t.Fatalf("error scanning inserted map: %s", insertedScanErr.Error()) }

	for idx := range insertedEntries {
		if ! bytes.Equal(appendedEntries[idx].Key, insertedEntries[idx].Key) {
			t.Errorf("append and put sequences disagree at %d: %s vs %s", idx, appendedEntries[idx].Key, insertedEntries[idx].Key)
		}

		if ! bytes.Equal(appendedEntries[idx].Value, insertedEntries[idx].Value) {
			t.Errorf("append and put values disagree at %d", idx)
		}
	}

	validateErr := appended.validate()
	if validateErr != nil { t.Errorf("tree invariants violated after append flood: %s", validateErr.Error()) }
}

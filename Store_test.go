package mvmap

import "bytes"
import "errors"
import "fmt"
import "testing"


func TestMVStorePersistence(t *testing.T) {
	dir := t.TempDir()

	store := openFileStore(t, dir, "persist.db", DefaultKeysPerPage)

	mvMap, openErr := store.OpenMap("orders", &MVMapOpts{ Compare: NumericStringCompare })
	if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

	keyVals := numericKeyVals(400)

	for _, val := range keyVals {
		_, putErr := mvMap.Put(val.Key, val.Value)
		if putErr != nil { t.Errorf("error on put: %s", putErr.Error()) }
	}

	_, commitErr := store.Commit()
	if commitErr != nil { t.Fatalf("error on commit: %s", commitErr.Error()) }

	closeErr := store.Close()
	if closeErr != nil { t.Fatalf("error closing store: %s", closeErr.Error()) }

	t.Run("Test Read Operations After Reopen", func(t *testing.T) {
		reopened := openFileStore(t, dir, "persist.db", DefaultKeysPerPage)
		defer reopened.Remove()

		recovered, reopenErr := reopened.OpenMap("orders", &MVMapOpts{ Compare: NumericStringCompare })
		if reopenErr != nil { t.Fatalf("error reopening map: %s", reopenErr.Error()) }

		if recovered.Size() != 400 { t.Errorf("actual size not equal to expected: actual(%d), expected(%d)", recovered.Size(), 400) }

		value, getErr := recovered.Get([]byte("399"))
		if getErr != nil { t.Errorf("error on get: %s", getErr.Error()) }
		if ! bytes.Equal(value, []byte("399")) { t.Errorf("actual value not equal to expected: actual(%s), expected(%s)", value, "399") }

		firstKey, firstErr := recovered.FirstKey()
		if firstErr != nil { t.Errorf("error on first key: %s", firstErr.Error()) }
		if ! bytes.Equal(firstKey, []byte("0")) { t.Errorf("actual first key not equal to expected: actual(%s), expected(%s)", firstKey, "0") }

		lastKey, lastErr := recovered.LastKey()
		if lastErr != nil { t.Errorf("error on last key: %s", lastErr.Error()) }
		if ! bytes.Equal(lastKey, []byte("399")) { t.Errorf("actual last key not equal to expected: actual(%s), expected(%s)", lastKey, "399") }

		expected := 0
		scanErr := recovered.ForEach(func(key, value []byte) bool {
			if ! bytes.Equal(key, []byte(fmt.Sprintf("%d", expected))) {
				t.Errorf("recovered iteration out of numeric order at %d: got %s", expected, key)
				return false
			}

			expected++
			return true
		})

		if scanErr != nil { t.Errorf("error on scan: %s", scanErr.Error()) }
		if expected != 400 { t.Errorf("recovered scan yielded %d entries, expected 400", expected) }

		validateErr := recovered.validate()
		if validateErr != nil { t.Errorf("tree invariants violated after recovery: %s", validateErr.Error()) }
	})
}

func TestMVStoreIncrementalCommits(t *testing.T) {
	dir := t.TempDir()

	store := openFileStore(t, dir, "incr.db", 8)

	mvMap, openErr := store.OpenMap("events", nil)
	if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

	for round := 0; round < 5; round++ {
		for idx := round * 100; idx < (round + 1) * 100; idx++ {
			_, putErr := mvMap.Put(paddedKey(idx), paddedKey(idx))
			if putErr != nil { t.Errorf("error on put: %s", putErr.Error()) }
		}

		_, commitErr := store.Commit()
		if commitErr != nil { t.Fatalf("error on commit round %d: %s", round, commitErr.Error()) }
	}

	closeErr := store.Close()
	if closeErr != nil { t.Fatalf("error closing store: %s", closeErr.Error()) }

	reopened := openFileStore(t, dir, "incr.db", 8)
	defer reopened.Remove()

	recovered, reopenErr := reopened.OpenMap("events", nil)
	if reopenErr != nil { t.Fatalf("error reopening map: %s", reopenErr.Error()) }

	if recovered.Size() != 500 { t.Errorf("actual size not equal to expected: actual(%d), expected(%d)", recovered.Size(), 500) }

	for idx := 0; idx < 500; idx++ {
		value, getErr := recovered.Get(paddedKey(idx))
		if getErr != nil { t.Errorf("error on get: %s", getErr.Error()) }
		if ! bytes.Equal(value, paddedKey(idx)) { t.Errorf("missing or wrong value for key %s after reopen", paddedKey(idx)) }
	}

	validateErr := recovered.validate()
	if validateErr != nil { t.Errorf("tree invariants violated after incremental recovery: %s", validateErr.Error()) }
}

func TestMVStoreCompact(t *testing.T) {
	dir := t.TempDir()

	store := openFileStore(t, dir, "compact.db", 8)
	defer store.Remove()

	mvMap, openErr := store.OpenMap("churn", nil)
	if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

	// churn the same keys across commits so the file accumulates dead pages
	for round := 0; round < 10; round++ {
		for idx := 0; idx < 100; idx++ {
			_, putErr := mvMap.Put(paddedKey(idx), []byte(fmt.Sprintf("round-%d", round)))
			if putErr != nil { t.Errorf("error on put: %s", putErr.Error()) }
		}

		_, commitErr := store.Commit()
		if commitErr != nil { t.Fatalf("error on commit round %d: %s", round, commitErr.Error()) }
	}

	compactErr := store.Compact()
	if compactErr != nil { t.Fatalf("error on compact: %s", compactErr.Error()) }

	if store.FreedMemory() != 0 { t.Errorf("compaction must reset the freed memory estimate, got %d", store.FreedMemory()) }

	for idx := 0; idx < 100; idx++ {
		value, getErr := mvMap.Get(paddedKey(idx))
		if getErr != nil { t.Errorf("error on get after compact: %s", getErr.Error()) }
		if ! bytes.Equal(value, []byte("round-9")) { t.Errorf("wrong value for key %s after compact: %s", paddedKey(idx), value) }
	}

	validateErr := mvMap.validate()
	if validateErr != nil { t.Errorf("tree invariants violated after compact: %s", validateErr.Error()) }
}

func TestMVStoreErrorPaths(t *testing.T) {
	store := openMemoryStore(t, 8)

	t.Run("Test Incompatible Map Type", func(t *testing.T) {
		_, openErr := store.OpenMap("weird", &MVMapOpts{ Type: "columnar" })
		if ! errors.Is(openErr, ErrIncompatibleType) { t.Errorf("expected an incompatible type error, got %v", openErr) }
	})

	t.Run("Test Closed Map Rejects Writes", func(t *testing.T) {
		mvMap, openErr := store.OpenMap("doomed", nil)
		if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

		if store.getMapName(mvMap.Id()) != "doomed" { t.Errorf("map id %d did not resolve to its name", mvMap.Id()) }

		mvMap.Close()

		_, putErr := mvMap.Put([]byte("k"), []byte("v"))
		if ! errors.Is(putErr, ErrMapClosed) { t.Errorf("expected a map closed error, got %v", putErr) }
		if ! mvMap.IsClosed() { t.Error("expected the map to report closed") }
	})

	t.Run("Test Closed Store Rejects Everything", func(t *testing.T) {
		mvMap, openErr := store.OpenMap("survivor", nil)
		if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

		closeErr := store.Close()
		if closeErr != nil { t.Fatalf("error closing store: %s", closeErr.Error()) }

		_, putErr := mvMap.Put([]byte("k"), []byte("v"))
		if putErr == nil { t.Error("expected an error writing through a closed store") }

		_, reopenErr := store.OpenMap("another", nil)
		if ! errors.Is(reopenErr, ErrStoreClosed) { t.Errorf("expected a store closed error, got %v", reopenErr) }
	})
}

func TestMVStoreVolatileMaps(t *testing.T) {
	dir := t.TempDir()

	store := openFileStore(t, dir, "volatile.db", 8)

	scratch, openErr := store.OpenMap("scratch", nil)
	if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

	scratch.SetVolatile(true)
	if ! scratch.IsVolatile() { t.Error("expected the map to report volatile") }

	for idx := 0; idx < 50; idx++ {
		_, putErr := scratch.Put(paddedKey(idx), paddedKey(idx))
		if putErr != nil { t.Errorf("error on put: %s", putErr.Error()) }
	}

	_, commitErr := store.Commit()
	if commitErr != nil { t.Fatalf("error on commit: %s", commitErr.Error()) }

	closeErr := store.Close()
	if closeErr != nil { t.Fatalf("error closing store: %s", closeErr.Error()) }

	reopened := openFileStore(t, dir, "volatile.db", 8)
	defer reopened.Remove()

	recovered, reopenErr := reopened.OpenMap("scratch", nil)
	if reopenErr != nil { t.Fatalf("error reopening map: %s", reopenErr.Error()) }

	if ! recovered.IsEmpty() { t.Errorf("volatile map data must not survive a reopen, size %d", recovered.Size()) }
}

package mvmap

import "bytes"
import "testing"


func TestMVMapSnapshots(t *testing.T) {
	store := openMemoryStore(t, 8)
	defer store.Close()

	mvMap, openErr := store.OpenMap("snapshots", nil)
	if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

	for idx := 0; idx < 100; idx++ {
		_, putErr := mvMap.Put(paddedKey(idx), paddedKey(idx))
		if putErr != nil { t.Errorf("error on put: %s", putErr.Error()) }
	}

	snapshot, snapshotErr := mvMap.OpenVersion(store.CurrentVersion())
	if snapshotErr != nil { t.Fatalf("error opening snapshot: %s", snapshotErr.Error()) }

	t.Run("Test Snapshot Stability", func(t *testing.T) {
		for idx := 0; idx < 100; idx++ {
			_, putErr := mvMap.Put(paddedKey(idx), []byte("rewritten"))
			if putErr != nil { t.Errorf("error on put: %s", putErr.Error()) }
		}

		for idx := 0; idx < 100; idx++ {
			value, getErr := snapshot.Get(paddedKey(idx))
			if getErr != nil { t.Errorf("error on snapshot get: %s", getErr.Error()) }

			if ! bytes.Equal(value, paddedKey(idx)) {
				t.Errorf("snapshot observed a later write for key %s: %s", paddedKey(idx), value)
			}
		}
	})

	t.Run("Test Snapshot Rejects Writes", func(t *testing.T) {
		_, putErr := snapshot.Put([]byte("illegal"), []byte("write"))
		if putErr == nil { t.Error("expected a read-only error writing to a snapshot") }

		if ! snapshot.IsReadOnly() { t.Error("expected the snapshot to report read-only") }
	})

	t.Run("Test Version Before Create Is Unknown", func(t *testing.T) {
		_, commitErr := store.Commit()
		if commitErr != nil { t.Fatalf("error on commit: %s", commitErr.Error()) }

		late, lateErr := store.OpenMap("late", nil)
		if lateErr != nil { t.Fatalf("error opening map: %s", lateErr.Error()) }

		_, oldErr := late.OpenVersion(0)
		if oldErr == nil { t.Error("expected an error opening a version older than the map") }
	})
}

func TestMVMapRollback(t *testing.T) {
	store := openMemoryStore(t, 8)
	defer store.Close()

	mvMap, openErr := store.OpenMap("rollback", nil)
	if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

	_, putErr := mvMap.Put([]byte("a"), []byte("1"))
	if putErr != nil { t.Fatalf("error on put: %s", putErr.Error()) }

	_, commitErr := store.Commit()
	if commitErr != nil { t.Fatalf("error on commit: %s", commitErr.Error()) }

	versionBeforeSecondPut := mvMap.Version()

	_, putErr = mvMap.Put([]byte("a"), []byte("2"))
	if putErr != nil { t.Fatalf("error on put: %s", putErr.Error()) }

	t.Run("Test Rollback Restores The Committed Value", func(t *testing.T) {
		mvMap.RollbackTo(versionBeforeSecondPut)

		value, getErr := mvMap.Get([]byte("a"))
		if getErr != nil { t.Errorf("error on get: %s", getErr.Error()) }
		if ! bytes.Equal(value, []byte("1")) { t.Errorf("actual value not equal to expected: actual(%s), expected(%s)", value, "1") }
	})

	t.Run("Test Rollback Idempotence", func(t *testing.T) {
		before, beforeErr := mvMap.Get([]byte("a"))
		if beforeErr != nil { t.Errorf("error on get: %s", beforeErr.Error()) }

		mvMap.RollbackTo(versionBeforeSecondPut)

		after, afterErr := mvMap.Get([]byte("a"))
		if afterErr != nil { t.Errorf("error on get: %s", afterErr.Error()) }

		if ! bytes.Equal(before, after) { t.Error("repeating a rollback to the same version must be a no-op") }
	})
}

func TestMVMapChangeTracking(t *testing.T) {
	store := openMemoryStore(t, 8)
	defer store.Close()

	mvMap, openErr := store.OpenMap("changes", nil)
	if openErr != nil { t.Fatalf("error opening map: %s", openErr.Error()) }

	t.Run("Test Fresh Map Has No Changes", func(t *testing.T) {
		if mvMap.HasChangesSince(0) { t.Error("fresh map must report no changes") }
	})

	t.Run("Test Writes Register As Changes", func(t *testing.T) {
		_, putErr := mvMap.Put([]byte("k"), []byte("v"))
		if putErr != nil { t.Fatalf("error on put: %s", putErr.Error()) }

		if ! mvMap.HasChangesSince(0) { t.Error("a write must register as a change") }
	})

	t.Run("Test Commit Settles Changes", func(t *testing.T) {
		committed, commitErr := store.Commit()
		if commitErr != nil { t.Fatalf("error on commit: %s", commitErr.Error()) }

		if mvMap.HasChangesSince(committed) { t.Error("no changes expected right after a commit") }

		_, putErr := mvMap.Put([]byte("k"), []byte("v2"))
		if putErr != nil { t.Fatalf("error on put: %s", putErr.Error()) }

		if ! mvMap.HasChangesSince(committed) { t.Error("a write after the commit must register as a change") }
	})

	t.Run("Test Version Monotonic Across Commits", func(t *testing.T) {
		before := mvMap.Version()

		_, commitErr := store.Commit()
		if commitErr != nil { t.Fatalf("error on commit: %s", commitErr.Error()) }

		if mvMap.Version() < before { t.Errorf("map version moved backwards: %d -> %d", before, mvMap.Version()) }
	})
}

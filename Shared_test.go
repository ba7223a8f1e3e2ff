package mvmap

import "crypto/rand"
import "fmt"
import "testing"


// KeyVal is the shared fixture shape for the map tests.
type KeyVal struct {
	Key []byte
	Value []byte
}

const INPUT_SIZE = 1000

// GenerateRandomBytes
//	Helper to generate random byte slices for fixture keys and values.
func GenerateRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)

	_, readErr := rand.Read(randomBytes)
	if readErr != nil { return nil, readErr }

	return randomBytes, nil
}

// openMemoryStore
//	Opens a pure in-memory store with the given keys per page; small values make splits happen early.
func openMemoryStore(t *testing.T, keysPerPage int) *MVStore {
	t.Helper()

	opts := MVStoreOpts{ KeysPerPage: &keysPerPage }

	store, openErr := Open(opts)
	if openErr != nil { t.Fatalf("error opening in-memory store: %s", openErr.Error()) }

	return store
}

// openFileStore
//	Opens a file-backed store in a temp directory, removed when the test finishes.
func openFileStore(t *testing.T, dir, fileName string, keysPerPage int) *MVStore {
	t.Helper()

	opts := MVStoreOpts{ Filepath: dir, FileName: fileName, KeysPerPage: &keysPerPage }

	store, openErr := Open(opts)
	if openErr != nil { t.Fatalf("error opening file-backed store: %s", openErr.Error()) }

	return store
}

// numericKeyVals
//	Builds the "0".."n-1" fixture where values equal keys, for the numeric comparator tests.
func numericKeyVals(n int) []KeyVal {
	keyVals := make([]KeyVal, n)

	for idx := range keyVals {
		token := []byte(fmt.Sprintf("%d", idx))
		keyVals[idx] = KeyVal{ Key: token, Value: token }
	}

	return keyVals
}

// paddedKey
//	Fixed-width keys so the byte order matches the numeric order.
func paddedKey(idx int) []byte {
	return []byte(fmt.Sprintf("%08d", idx))
}

// randomKeyVals
//	Builds n random fixture pairs for the stress style tests.
func randomKeyVals(t *testing.T, n int) []KeyVal {
	t.Helper()

	keyVals := make([]KeyVal, n)

	for idx := range keyVals {
		randomBytes, genErr := GenerateRandomBytes(32)
		if genErr != nil { t.Fatalf("error generating fixture bytes: %s", genErr.Error()) }

		keyVals[idx] = KeyVal{ Key: randomBytes, Value: randomBytes }
	}

	return keyVals
}

package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

const pattern = "abcdefghijklmnopqrstuvwxyz"

// WriteFile fills the target path with size bytes of a repeating a-z
// pattern, so byte i is pattern[i%26]. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	// A multiple of the pattern length keeps every chunk aligned.
	const chunkSize = 26 * 1260
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = pattern[i%len(pattern)]
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// ReadFile returns the file contents or fails the test.
func ReadFile(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

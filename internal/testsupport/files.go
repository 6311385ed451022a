package testsupport

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"restorebench/internal/config"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
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

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
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

// ImageSize is the edge length of images written by WriteDataset.
const ImageSize = 8

// WritePNG writes a size×size PNG whose pixels depend on shade.
func WritePNG(t testing.TB, path string, size int, shade uint8) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = shade + uint8(i)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteDataset writes one PNG per id into the configured image directory and
// a partition file assigning every id to the test split.
func WriteDataset(t testing.TB, cfg *config.Config, ids ...string) {
	t.Helper()
	var index strings.Builder
	index.WriteString("image_id,partition\n")
	for i, id := range ids {
		WritePNG(t, filepath.Join(cfg.Dataset.ImageDir, id), ImageSize, uint8(i*16))
		fmt.Fprintf(&index, "%s,2\n", id)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Dataset.PartitionFile), 0o755); err != nil {
		t.Fatalf("mkdir dataset: %v", err)
	}
	if err := os.WriteFile(cfg.Dataset.PartitionFile, []byte(index.String()), 0o644); err != nil {
		t.Fatalf("write partition file: %v", err)
	}
}

// ScenarioIDs are the five sample ids used by end-to-end tests.
var ScenarioIDs = []string{"000001.png", "000002.png", "000003.png", "000004.png", "000005.png"}

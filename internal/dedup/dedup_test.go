package dedup_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"spectra-core/internal/dedup"
	"spectra-core/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	st, err := storage.Open(path)
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func solidPNG(t *testing.T, r, g, b uint8, noisyPixel bool) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{r, g, b, 255})
		}
	}
	if noisyPixel {
		img.Set(0, 0, color.RGBA{r ^ 0x01, g, b, 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestExactDuplicateImageIsRejectedOnSecondGroup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t)
	o, err := dedup.New(context.Background(), st, dedup.Options{})
	if err != nil {
		t.Fatalf("dedup.New() error = %v", err)
	}
	ctx := context.Background()

	png1 := solidPNG(t, 10, 20, 30, false)
	path1 := writeFile(t, dir, "a.png", png1)
	path2 := writeFile(t, dir, "b.png", png1) // identical bytes, different message

	group1 := []dedup.FileCandidate{{FileID: "file-1", MIMEType: "image/png", LocalPath: path1, ChannelID: 5}}
	dup, err := o.IsDuplicate(ctx, group1)
	if err != nil {
		t.Fatalf("IsDuplicate() error = %v", err)
	}
	if dup {
		t.Fatal("IsDuplicate() = true for first occurrence, want false")
	}
	if err := o.Record(ctx, group1, 5); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	group2 := []dedup.FileCandidate{{FileID: "file-2", MIMEType: "image/png", LocalPath: path2, ChannelID: 5}}
	dup, err = o.IsDuplicate(ctx, group2)
	if err != nil {
		t.Fatalf("IsDuplicate() error = %v", err)
	}
	if !dup {
		t.Fatal("IsDuplicate() = false for identical bytes, want true")
	}
}

func TestNearDuplicateImageUnderThreshold(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t)
	o, err := dedup.New(context.Background(), st, dedup.Options{
		EnableNearDuplicates: true,
		PerceptualThreshold:  10,
		FuzzyThreshold:       85,
	})
	if err != nil {
		t.Fatalf("dedup.New() error = %v", err)
	}
	ctx := context.Background()

	original := solidPNG(t, 100, 150, 200, false)
	pathOriginal := writeFile(t, dir, "orig.png", original)
	group1 := []dedup.FileCandidate{{FileID: "file-orig", MIMEType: "image/png", LocalPath: pathOriginal, ChannelID: 1}}
	if _, err := o.IsDuplicate(ctx, group1); err != nil {
		t.Fatalf("IsDuplicate() error = %v", err)
	}
	if err := o.Record(ctx, group1, 1); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	near := solidPNG(t, 100, 150, 200, true) // one antialiased pixel flipped
	pathNear := writeFile(t, dir, "near.png", near)
	group2 := []dedup.FileCandidate{{FileID: "file-near", MIMEType: "image/png", LocalPath: pathNear, ChannelID: 1}}
	dup, err := o.IsDuplicate(ctx, group2)
	if err != nil {
		t.Fatalf("IsDuplicate() error = %v", err)
	}
	if !dup {
		t.Fatal("IsDuplicate() = false for a near-duplicate within threshold, want true")
	}
}

func TestZeroLengthDownloadIsNotADuplicate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t)
	o, err := dedup.New(context.Background(), st, dedup.Options{})
	if err != nil {
		t.Fatalf("dedup.New() error = %v", err)
	}
	ctx := context.Background()

	emptyPath := writeFile(t, dir, "empty.bin", nil)
	candidate := []dedup.FileCandidate{{FileID: "file-empty", MIMEType: "application/octet-stream", LocalPath: emptyPath}}

	dup, err := o.IsDuplicate(ctx, candidate)
	if err != nil {
		t.Fatalf("IsDuplicate() error = %v", err)
	}
	if dup {
		t.Fatal("IsDuplicate() = true for a zero-length file, want false")
	}

	// A second identical (empty) candidate must also not be flagged: the
	// fingerprint store was never polluted by the first zero-length file.
	dup, err = o.IsDuplicate(ctx, candidate)
	if err != nil {
		t.Fatalf("IsDuplicate() error = %v", err)
	}
	if dup {
		t.Fatal("IsDuplicate() = true for a second zero-length file, want false")
	}
}

func TestFailedDownloadIsNotADuplicate(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	o, err := dedup.New(context.Background(), st, dedup.Options{})
	if err != nil {
		t.Fatalf("dedup.New() error = %v", err)
	}

	candidate := []dedup.FileCandidate{{FileID: "file-missing", MIMEType: "image/png", LocalPath: ""}}
	dup, err := o.IsDuplicate(context.Background(), candidate)
	if err != nil {
		t.Fatalf("IsDuplicate() error = %v", err)
	}
	if dup {
		t.Fatal("IsDuplicate() = true for a failed download (no local path), want false")
	}
}

type stubClassifier struct{ category string }

func (s stubClassifier) Classify(localPath, mimeType string) string { return s.category }

func TestRecordFeedsCategoryStatsWhenClassifierSet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t)
	o, err := dedup.New(context.Background(), st, dedup.Options{})
	if err != nil {
		t.Fatalf("dedup.New() error = %v", err)
	}
	o.SetClassifier(stubClassifier{category: "image"})
	ctx := context.Background()

	path := writeFile(t, dir, "photo.png", solidPNG(t, 1, 2, 3, false))
	candidate := []dedup.FileCandidate{{FileID: "file-classified", MIMEType: "image/png", LocalPath: path, ChannelID: 5}}
	if err := o.Record(ctx, candidate, 5); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	stats, ok, err := st.CategoryStatsFor(ctx, "image")
	if err != nil {
		t.Fatalf("CategoryStatsFor() error = %v", err)
	}
	if !ok {
		t.Fatal("CategoryStatsFor() found no stats row, want one recorded by Record")
	}
	if stats.FilesSorted != 1 {
		t.Fatalf("FilesSorted = %d, want 1", stats.FilesSorted)
	}
}

func TestRecordSkipsCategoryStatsWithoutClassifier(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openTestStore(t)
	o, err := dedup.New(context.Background(), st, dedup.Options{})
	if err != nil {
		t.Fatalf("dedup.New() error = %v", err)
	}
	ctx := context.Background()

	path := writeFile(t, dir, "photo.png", solidPNG(t, 4, 5, 6, false))
	candidate := []dedup.FileCandidate{{FileID: "file-unclassified", MIMEType: "image/png", LocalPath: path, ChannelID: 5}}
	if err := o.Record(ctx, candidate, 5); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if _, ok, err := st.CategoryStatsFor(ctx, "image"); err != nil {
		t.Fatalf("CategoryStatsFor() error = %v", err)
	} else if ok {
		t.Fatal("CategoryStatsFor() found a row, want none without a classifier set")
	}
}

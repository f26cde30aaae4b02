package sorting

import "testing"

func TestClassifyByExtensionMapping(t *testing.T) {
	c := NewClassifier(map[string][]string{
		"text":    {".txt", ".md"},
		"archive": {".zip"},
	})

	if got := c.Classify("/tmp/notes.txt", "text/plain"); got != "text" {
		t.Fatalf("Classify() = %q, want %q", got, "text")
	}
	if got := c.Classify("/tmp/bundle.zip", "application/zip"); got != "archive" {
		t.Fatalf("Classify() = %q, want %q", got, "archive")
	}
}

func TestClassifyFallsBackToMIMETopLevel(t *testing.T) {
	c := NewClassifier(nil)

	if got := c.Classify("/tmp/photo.unknownext", "image/jpeg"); got != "image" {
		t.Fatalf("Classify() = %q, want %q", got, "image")
	}
}

func TestClassifyUnknownWhenNeitherAvailable(t *testing.T) {
	c := NewClassifier(nil)

	if got := c.Classify("/tmp/blob", ""); got != unknownCategory {
		t.Fatalf("Classify() = %q, want %q", got, unknownCategory)
	}
}

func TestClassifyExtensionMappingWinsOverMIME(t *testing.T) {
	c := NewClassifier(map[string][]string{"text": {".txt"}})

	if got := c.Classify("/tmp/report.txt", "application/octet-stream"); got != "text" {
		t.Fatalf("Classify() = %q, want %q", got, "text")
	}
}

package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"transcription-scheduler/internal/models"
)

func TestComputeDeterministic(t *testing.T) {
	opts := models.Options{Language: "en", Model: "base", Translate: true}
	a := Compute("deadbeef", opts)
	b := Compute("deadbeef", opts)
	if a != b {
		t.Fatalf("same inputs produced different fingerprints: %s vs %s", a, b)
	}
}

func TestComputeSensitivity(t *testing.T) {
	base := Compute("deadbeef", models.Options{Language: "en"})
	cases := map[string]string{
		"content":     Compute("cafebabe", models.Options{Language: "en"}),
		"language":    Compute("deadbeef", models.Options{Language: "de"}),
		"model":       Compute("deadbeef", models.Options{Language: "en", Model: "large"}),
		"translate":   Compute("deadbeef", models.Options{Language: "en", Translate: true}),
		"temperature": Compute("deadbeef", models.Options{Language: "en", Temperature: 0.4}),
	}
	for name, fp := range cases {
		if fp == base {
			t.Fatalf("changing %s did not change the fingerprint", name)
		}
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("fake audio bytes"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	h1, err := HashFile(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := HashFile(path)
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("unstable or malformed digest: %q vs %q", h1, h2)
	}
	if _, err := HashFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// Package fingerprint derives the deterministic content key used for
// coalescing and result caching. Two submissions share a fingerprint exactly
// when their media bytes and transcription options are identical.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"transcription-scheduler/internal/models"
)

// Compute combines a media content hash with the normalized options.
// The options are serialized field by field in a fixed order so that the
// fingerprint does not depend on struct encoding details.
func Compute(contentHash string, opts models.Options) string {
	h := sha256.New()
	io.WriteString(h, contentHash)
	io.WriteString(h, "\x00lang=")
	io.WriteString(h, opts.Language)
	io.WriteString(h, "\x00model=")
	io.WriteString(h, opts.Model)
	io.WriteString(h, "\x00translate=")
	io.WriteString(h, strconv.FormatBool(opts.Translate))
	io.WriteString(h, "\x00temp=")
	io.WriteString(h, strconv.FormatFloat(opts.Temperature, 'g', -1, 64))
	return hex.EncodeToString(h.Sum(nil))
}

// HashFile streams a file through sha256 and returns the hex digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash input: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

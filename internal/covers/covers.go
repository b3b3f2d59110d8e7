// Package covers stores validated cover images on disk, sharded by
// namespace and date so directories stay small.
package covers

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/viper"
)

// Dir writes covers under <root>/<namespace>/<yyyy/mm/dd>/<random>.<ext>
// and returns the path relative to root.
type Dir struct {
	Root string
	// now is replaceable in tests.
	now func() time.Time
}

// New returns a cover store rooted at dir.
func New(dir string) *Dir {
	return &Dir{Root: dir, now: time.Now}
}

// NewDefault returns a cover store at the configured location (covers.dir).
func NewDefault() *Dir {
	dir := viper.GetString("covers.dir")
	if dir == "" {
		dir = "./covers"
	}
	return New(dir)
}

// Store validates data as a decodable image and writes it. filenameHint
// only contributes its extension; the basename is random so concurrent
// stores never collide.
func (d *Dir) Store(namespace, filenameHint string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image data")
	}
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("not a decodable image: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filenameHint))
	if ext == "" {
		ext = ".jpg"
	}

	nowFn := d.now
	if nowFn == nil {
		nowFn = time.Now
	}
	var randPart [8]byte
	if _, err := rand.Read(randPart[:]); err != nil {
		return "", fmt.Errorf("failed to generate filename: %w", err)
	}

	rel := filepath.Join(namespace, nowFn().UTC().Format("2006/01/02"), hex.EncodeToString(randPart[:])+ext)
	full := filepath.Join(d.Root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cover directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write cover: %w", err)
	}
	return rel, nil
}

// Package output writes crawl results to disk.
package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileName derives the CSV file name for seed: scheme and www. prefixes are
// dropped and path separators become underscores.
func FileName(seed string) string {
	name := strings.TrimSpace(seed)
	for _, prefix := range []string{"https://", "http://", "www."} {
		name = strings.TrimPrefix(name, prefix)
	}
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.TrimRight(name, "_")
	if name == "" {
		name = "crawl"
	}
	return name + ".csv"
}

// WriteCSV writes one URL per row to path, replacing any existing file.
func WriteCSV(path string, urls []string) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() {
		err = errors.Join(err, fh.Close())
	}()

	w := csv.NewWriter(fh)
	for _, u := range urls {
		if err := w.Write([]string{u}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
)

// Entry is one file added to an archive under Name.
type Entry struct {
	Name string
	Path string
}

// Write streams entries into a zip archive on w. Files are read one at a time
// so large outputs are never held in memory.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, entry := range entries {
		if err := addFile(zw, entry); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, entry Entry) error {
	f, err := os.Open(entry.Path)
	if err != nil {
		return fmt.Errorf("zip %s: %w", entry.Name, err)
	}
	defer f.Close()

	dst, err := zw.Create(entry.Name)
	if err != nil {
		return fmt.Errorf("zip %s: %w", entry.Name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("zip %s: %w", entry.Name, err)
	}
	return nil
}

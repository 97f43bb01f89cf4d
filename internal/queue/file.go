package queue

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// fsops holds filesystem calls that tests replace to inject failures.
var fsops = struct {
	rename  func(oldpath, newpath string) error
	syncDir func(dir string) error
}{
	rename:  os.Rename,
	syncDir: syncDir,
}

// writeFileAtomic replaces path with data using the temp-file, fsync, rename
// pattern. The temp file lives in the target directory so the rename stays
// on one filesystem; it is removed on every failure before the rename.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating queue directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	if _, err = w.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = fsops.rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	// The rename is durable only once the directory entry is flushed. Some
	// platforms cannot fsync a directory; the data itself is already synced.
	_ = fsops.syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

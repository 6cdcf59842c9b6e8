package protogen

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Write lays the given files out under root, creating package directories as
// needed and overwriting anything already there. Filesystem errors abort the
// write; there is no partial-failure recovery.
func Write(files []File, root string) error {
	for _, f := range files {
		path := filepath.Join(root, f.Path())
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", f.Path(), err)
		}
		if err := os.WriteFile(path, []byte(f.Text), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", f.Path(), err)
		}
	}
	return nil
}

// Archive bundles the directory tree rooted at root into a sibling
// <root>.tar.gz, with entry paths relative to root. It returns the archive
// path.
func Archive(root string) (string, error) {
	root = filepath.Clean(root)
	out := root + ".tar.gz"
	f, err := os.Create(out)
	if err != nil {
		return "", err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("archiving %s: %w", root, err)
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return out, nil
}

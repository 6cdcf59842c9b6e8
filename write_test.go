package protogen

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteLaysOutNamespaceTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "protos")
	files := Synthesize(sampleCatalog())
	if err := Write(files, root); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	for _, f := range files {
		b, err := os.ReadFile(filepath.Join(root, f.Path()))
		if err != nil {
			t.Fatalf("missing output file %s: %v", f.Path(), err)
		}
		if string(b) != f.Text {
			t.Errorf("content mismatch for %s", f.Path())
		}
	}
}

func TestWriteOverwritesExisting(t *testing.T) {
	root := filepath.Join(t.TempDir(), "protos")
	files := []File{{Package: "pkg", Name: "a.proto", Text: "old\n"}}
	if err := Write(files, root); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	files[0].Text = "new\n"
	if err := Write(files, root); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(root, "pkg", "a.proto"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "new\n" {
		t.Errorf("file not overwritten: %q", b)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "protos")
	files := Synthesize(sampleCatalog())
	if err := Write(files, root); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	path, err := Archive(root)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if path != root+".tar.gz" {
		t.Errorf("archive path = %q, want %q", path, root+".tar.gz")
	}

	extracted := readArchive(t, path)
	for _, f := range files {
		rel := filepath.ToSlash(f.Path())
		got, ok := extracted[rel]
		if !ok {
			t.Errorf("archive missing entry %s; has %v", rel, keys(extracted))
			continue
		}
		if got != f.Text {
			t.Errorf("archive content mismatch for %s", rel)
		}
	}
}

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening archive: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("reading gzip: %v", err)
	}
	defer gz.Close()

	out := make(map[string]string)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading tar: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("reading entry %s: %v", hdr.Name, err)
		}
		out[hdr.Name] = string(b)
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

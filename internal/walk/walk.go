// Package walk discovers and loads .class files from a directory tree or a
// single .jar archive, handing back parsed classfile.Class trees keyed by
// the path they should be written back to.
package walk

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/VirtusLab/lazyvalgrade/classfile"
)

// Entry is one discovered class: its parsed tree plus enough information
// to write a rewritten version back to the same location it came from.
type Entry struct {
	Class *classfile.Class

	// SourcePath is the .class file's path on disk, or the .jar's path
	// when InJarEntry is set.
	SourcePath string
	InJarEntry string // non-empty when SourcePath names the containing .jar
}

// Discover walks root, which may be a directory or a single .jar file, and
// parses every .class member it finds.
func Discover(root string) ([]Entry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}
	if !info.IsDir() && strings.HasSuffix(strings.ToLower(root), ".jar") {
		return discoverJar(root)
	}
	if info.IsDir() {
		return discoverDir(root)
	}
	return nil, fmt.Errorf("walk: %s is neither a directory nor a .jar file", root)
}

func discoverDir(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		lower := strings.ToLower(path)
		switch {
		case strings.HasSuffix(lower, ".class"):
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			c, err := classfile.Parse(data)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}
			entries = append(entries, Entry{Class: c, SourcePath: path})
		case strings.HasSuffix(lower, ".jar"):
			nested, err := discoverJar(path)
			if err != nil {
				return err
			}
			entries = append(entries, nested...)
		}
		return nil
	})
	return entries, err
}

func discoverJar(jarPath string) ([]Entry, error) {
	r, err := zip.OpenReader(jarPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", jarPath, err)
	}
	defer r.Close()

	var entries []Entry
	for _, f := range r.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".class") {
			continue
		}
		data, err := readZipEntry(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s in %s: %w", f.Name, jarPath, err)
		}
		c, err := classfile.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s in %s: %w", f.Name, jarPath, err)
		}
		entries = append(entries, Entry{Class: c, SourcePath: jarPath, InJarEntry: f.Name})
	}
	return entries, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// WriteClass writes data back to disk at path, creating any missing parent
// directories (used for plain directory trees; .jar in-place rewriting is
// handled by the caller since it needs the whole archive rewritten at once).
func WriteClass(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// RewriteJar copies srcPath into dstPath, replacing the member bytes named
// in replacements (keyed by zip member name, e.g. "com/example/Foo.class") with their
// rewritten contents, and leaving every other member untouched. It always
// stages the rewritten archive in a temp file and renames it into place,
// since srcPath and dstPath are the same path for an in-place patch run and
// truncating that file while zip.Reader still has it open for read would
// corrupt every member read after the truncation.
func RewriteJar(srcPath, dstPath string, replacements map[string][]byte) error {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return err
	}
	defer r.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".lazyvalgrade-jar-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	zw := zip.NewWriter(tmp)
	for _, f := range r.File {
		w, err := zw.CreateHeader(&f.FileHeader)
		if err != nil {
			tmp.Close()
			return err
		}
		if replacement, ok := replacements[f.Name]; ok {
			if _, err := w.Write(replacement); err != nil {
				tmp.Close()
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			tmp.Close()
			return err
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		if err != nil {
			tmp.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dstPath)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/calvinalkan/classindex/pkg/classfile"
)

const classSuffix = ".class"

var errNotClassSource = errors.New("not a .class file, directory, .jar or .zip")

// classEntry is one class definition read from a source.
type classEntry struct {
	// Source is the argument the class was found under. Every source is
	// treated as its own loading context.
	Source string

	// Location is the path of the class inside Source, or Source itself.
	Location string

	// Name is the internal class name.
	Name string

	Bytes []byte
}

// walkClasses calls fn for every class in path. path may be a .class file,
// a directory tree or a .jar/.zip archive.
func walkClasses(ctx context.Context, path string, fn func(classEntry) error) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	switch {
	case info.IsDir():
		return walkDir(ctx, path, fn)
	case isArchive(path):
		return walkArchive(ctx, path, fn)
	case strings.HasSuffix(path, classSuffix):
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		return fn(classEntry{Source: path, Location: path, Name: nameFromBytes(data, path), Bytes: data})
	default:
		return fmt.Errorf("%w: %s", errNotClassSource, path)
	}
}

func walkDir(ctx context.Context, root string, fn func(classEntry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() || !strings.HasSuffix(path, classSuffix) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		return fn(classEntry{
			Source:   root,
			Location: rel,
			Name:     nameFromPath(filepath.ToSlash(rel)),
			Bytes:    data,
		})
	})
}

func walkArchive(ctx context.Context, path string, fn func(classEntry) error) error {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", path, err)
	}
	defer archive.Close()

	for _, file := range archive.File {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if file.FileInfo().IsDir() || !strings.HasSuffix(file.Name, classSuffix) {
			continue
		}

		data, err := readArchived(file)
		if err != nil {
			return fmt.Errorf("reading %s!%s: %w", path, file.Name, err)
		}

		err = fn(classEntry{
			Source:   path,
			Location: file.Name,
			Name:     nameFromPath(file.Name),
			Bytes:    data,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func readArchived(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

func isArchive(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))

	return ext == ".jar" || ext == ".zip"
}

// nameFromPath maps an archive or directory path to an internal name.
// Multi-release entries under META-INF/versions/N/ map to the plain name.
func nameFromPath(rel string) string {
	name := strings.TrimSuffix(rel, classSuffix)

	if rest, ok := strings.CutPrefix(name, "META-INF/versions/"); ok {
		if _, after, found := strings.Cut(rest, "/"); found {
			name = after
		}
	}

	return name
}

// nameFromBytes reads the name from the class header, falling back to the
// file name when the header cannot be parsed.
func nameFromBytes(data []byte, path string) string {
	header, err := classfile.ParseHeader(data)
	if err != nil {
		return strings.TrimSuffix(filepath.Base(path), classSuffix)
	}

	return header.Name
}

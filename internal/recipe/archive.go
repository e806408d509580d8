package recipe

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/tuist/fabrik/internal/store"
)

// Archive packs every path in outputs (resolved relative to baseDir) into
// a single tar+zstd blob and stores it in cas under its content digest.
func Archive(ctx context.Context, cas store.CAS, baseDir string, outputs []string) (store.Digest, error) {
	pr, pw := io.Pipe()
	hr := store.NewHashingReader(pr)

	go func() {
		pw.CloseWithError(writeArchive(pw, baseDir, outputs))
	}()

	buf, err := io.ReadAll(hr)
	if err != nil {
		return store.Digest{}, fmt.Errorf("recipe: archiving outputs: %w", err)
	}
	digest := hr.Sum()

	if _, err := cas.Put(ctx, digest.Hash, digest.Size, bytes.NewReader(buf)); err != nil {
		return store.Digest{}, fmt.Errorf("recipe: storing archive: %w", err)
	}
	return digest, nil
}

func writeArchive(w io.Writer, baseDir string, outputs []string) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	for _, rel := range outputs {
		full := filepath.Join(baseDir, rel)
		if err := addToArchive(tw, full, rel); err != nil {
			tw.Close()
			zw.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		return fmt.Errorf("closing tar writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing zstd writer: %w", err)
	}
	return nil
}

func addToArchive(tw *tar.Writer, full, rel string) error {
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("stat output %s: %w", rel, err)
	}
	if info.IsDir() {
		return filepath.Walk(full, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			r, err := filepath.Rel(full, p)
			if err != nil {
				return err
			}
			return writeTarEntry(tw, p, filepath.Join(rel, r))
		})
	}
	return writeTarEntry(tw, full, rel)
}

func writeTarEntry(tw *tar.Writer, full, name string) error {
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(name)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// Restore unpacks the archive identified by digest from cas into baseDir,
// recreating each declared output path. Entries are written as they are
// read, so a corrupt or truncated archive returns an error after the entries
// before the damage have been restored, and the failing entry may be partly
// written; callers must treat any error here as an invalidated cache entry
// and re-run the recipe.
func Restore(ctx context.Context, cas store.CAS, hash store.Hash, baseDir string) error {
	rc, err := cas.Get(ctx, hash)
	if err != nil {
		return fmt.Errorf("recipe: fetching archive: %w", err)
	}
	defer rc.Close()

	zr, err := zstd.NewReader(rc)
	if err != nil {
		return fmt.Errorf("recipe: opening zstd stream: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("recipe: reading archive entry: %w", err)
		}
		dest := filepath.Join(baseDir, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("recipe: creating output dir: %w", err)
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return fmt.Errorf("recipe: creating output file: %w", err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return fmt.Errorf("recipe: writing output file: %w", err)
		}
		f.Close()
	}
}

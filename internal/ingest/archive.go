package ingest

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrArchiveTooLarge is returned when the declared uncompressed size of an
// archive exceeds the configured cap.
var ErrArchiveTooLarge = errors.New("archive exceeds size limit")

// Unpacker extracts uploaded zip archives into per-request scratch
// directories.
type Unpacker struct {
	tmpRoot  string
	maxBytes int64
}

func NewUnpacker(tmpRoot string, maxBytes int64) *Unpacker {
	return &Unpacker{tmpRoot: tmpRoot, maxBytes: maxBytes}
}

// Unpack writes the archive to disk under {tmproot}/{uuid}/ and extracts it.
// It returns the extraction root and the extracted file paths in archive
// order. The caller owns cleanup of the returned root.
func (u *Unpacker) Unpack(archive io.Reader) (root string, files []string, err error) {
	root = filepath.Join(u.tmpRoot, uuid.NewString())
	if err := os.MkdirAll(root, 0o750); err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}

	archivePath := filepath.Join(root, "upload.zip")
	if err := spool(archivePath, archive, u.maxBytes); err != nil {
		return root, nil, err
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return root, nil, fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	var total int64
	for _, entry := range reader.File {
		total += int64(entry.UncompressedSize64)
		if total > u.maxBytes {
			return root, nil, ErrArchiveTooLarge
		}

		target, err := resolveEntry(root, entry.Name)
		if err != nil {
			return root, nil, err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return root, nil, fmt.Errorf("create dir %s: %w", entry.Name, err)
			}
			continue
		}
		if err := extractEntry(entry, target, u.maxBytes); err != nil {
			return root, nil, err
		}
		files = append(files, target)
	}
	return root, files, nil
}

func spool(path string, src io.Reader, maxBytes int64) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("spool archive: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(src, maxBytes+1))
	if err != nil {
		return fmt.Errorf("spool archive: %w", err)
	}
	if n > maxBytes {
		return ErrArchiveTooLarge
	}
	return nil
}

// resolveEntry guards against zip-slip: every entry must land inside root.
func resolveEntry(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("archive entry %q escapes extraction root", name)
	}
	return filepath.Join(root, cleaned), nil
}

func extractEntry(entry *zip.File, target string, maxBytes int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", entry.Name, err)
	}
	in, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", entry.Name, err)
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create %s: %w", entry.Name, err)
	}
	defer out.Close()

	// LimitReader caps decompression even if the entry header lies about
	// its uncompressed size.
	if _, err := io.Copy(out, io.LimitReader(in, maxBytes+1)); err != nil {
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	return nil
}

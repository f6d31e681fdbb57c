// Package archive exports a mirrored project directory as a single
// compressed tarball, for handing a project snapshot to collaborators
// without granting access to the server share.
package archive

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/neuroforge/labmirror/pkg/plog"
	"github.com/neuroforge/labmirror/pkg/util"
)

const (
	writeBufferSize = 1 * 1024 * 1024

	// nameTimeFormat stamps archive names so repeated exports of the
	// same project never overwrite each other.
	nameTimeFormat = "2006-01-02-15-04-05"
)

// ArchiveName returns the output file name for a directory archive,
// e.g. "Proj-2026-08-30-14-05-00.tar.zst" for srcDir ".../Proj" and
// format TarZst.
func ArchiveName(srcDir string, at time.Time, format Format) string {
	return filepath.Base(filepath.Clean(srcDir)) + "-" + at.Format(nameTimeFormat) + "." + string(format)
}

// WriteArchive walks srcDir and writes its contents as a compressed tar
// file at outPath. The archive is built in a temporary sibling file and
// renamed into place, so a failed or canceled run never leaves a partial
// archive at outPath. Symlinks are stored as links, other non-regular
// entries are skipped.
func WriteArchive(ctx context.Context, srcDir, outPath string, format Format) (retErr error) {
	plog.Info("Writing archive", "source", srcDir, "output", outPath, "format", format.String())

	tmpF, err := os.CreateTemp(filepath.Dir(outPath), "labmirror-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := tmpF.Name()
	defer func() {
		if retErr != nil {
			tmpF.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := writeTar(ctx, srcDir, tmpF, format); err != nil {
		return err
	}

	if err := tmpF.Close(); err != nil {
		return fmt.Errorf("failed to close temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	return nil
}

func writeTar(ctx context.Context, srcDir string, out io.Writer, format Format) (retErr error) {
	bufWriter := bufio.NewWriterSize(out, writeBufferSize)

	var compressedWriter io.WriteCloser
	switch format {
	case TarZst:
		zstdWriter, err := zstd.NewWriter(bufWriter)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zstdWriter
	default:
		compressedWriter = pgzip.NewWriter(bufWriter)
	}

	tarWriter := tar.NewWriter(compressedWriter)
	defer func() {
		if err := tarWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := compressedWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	return filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}

		relKey, err := util.NormalizedRelPath(srcDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info for %s: %w", path, err)
		}

		switch {
		case d.IsDir():
			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return fmt.Errorf("failed to create tar header for %s: %w", relKey, err)
			}
			header.Name = relKey + "/"
			return tarWriter.WriteHeader(header)

		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read link %s: %w", path, err)
			}
			header, err := tar.FileInfoHeader(info, linkTarget)
			if err != nil {
				return fmt.Errorf("failed to create tar header for %s: %w", relKey, err)
			}
			header.Name = relKey
			return tarWriter.WriteHeader(header)

		case info.Mode().IsRegular():
			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return fmt.Errorf("failed to create tar header for %s: %w", relKey, err)
			}
			header.Name = relKey
			if err := tarWriter.WriteHeader(header); err != nil {
				return fmt.Errorf("failed to write tar header for %s: %w", relKey, err)
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open file %s: %w", path, err)
			}
			_, copyErr := io.Copy(tarWriter, f)
			f.Close()
			if copyErr != nil {
				return fmt.Errorf("failed to archive file %s: %w", relKey, copyErr)
			}
			plog.Notice("ADD", "file", relKey)
			return nil

		default:
			plog.Notice("SKIP", "type", info.Mode().String(), "path", relKey)
			return nil
		}
	})
}

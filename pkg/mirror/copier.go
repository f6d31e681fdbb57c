package mirror

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/neuroforge/labmirror/pkg/plog"
)

// DefaultChunkSize is the default copy chunk size: 4 MiB. Large enough to
// amortize per-call overhead on spinning and network disks, small enough
// to bound memory and keep progress reporting responsive.
const DefaultChunkSize = 4 * 1024 * 1024

// minElapsed clamps the elapsed time used for throughput computation so
// the very first sample cannot divide by zero.
const minElapsed = time.Microsecond

// LogSink receives one human-readable progress or summary line at a time.
// Sinks are called synchronously from the copying goroutine and must not
// block indefinitely.
type LogSink func(line string)

// NopSink discards all log lines.
func NopSink(string) {}

// Outcome reports the result of copying one file. Performed is false when
// the destination was already up to date and no bytes moved.
type Outcome struct {
	Performed   bool
	BytesPerSec float64
}

// Copier copies single files in fixed-size sequential chunks, reporting
// cumulative progress after every chunk.
type Copier struct {
	// ChunkSize is the read/write chunk size in bytes. Zero means
	// DefaultChunkSize.
	ChunkSize int

	// Metrics receives byte and file counters. Never nil after NewCopier.
	Metrics Metrics
}

// NewCopier returns a Copier with the given chunk size (0 for the default)
// and metrics sink (nil for none).
func NewCopier(chunkSize int, metrics Metrics) *Copier {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Copier{ChunkSize: chunkSize, Metrics: metrics}
}

// Copy copies srcPath to dstPath if the destination is missing or stale.
//
// The caller guarantees the destination's parent directory exists. Content
// is streamed in ChunkSize pieces, strictly in order, one line of progress
// emitted to sink per chunk. The reported rate is a cumulative average
// (bytes so far / elapsed), not an instantaneous one.
//
// On success the source's permission bits and modification time are copied
// onto the destination best-effort; a failure there is logged and ignored
// because the content transfer is already complete. Any read or write
// error is returned as a hard failure for this file.
func (c *Copier) Copy(srcPath, dstPath string, sink LogSink) (Outcome, error) {
	if sink == nil {
		sink = NopSink
	}

	if !NeedsCopy(srcPath, dstPath) {
		c.Metrics.AddFilesUpToDate(1)
		return Outcome{Performed: false, BytesPerSec: 0}, nil
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to open source file %s: %w", srcPath, err)
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to stat source file %s: %w", srcPath, err)
	}
	total := srcInfo.Size()

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create destination file %s: %w", dstPath, err)
	}
	defer out.Close()

	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	base := filepath.Base(srcPath)

	start := time.Now()
	var copied int64
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return Outcome{}, fmt.Errorf("failed to write chunk to %s: %w", dstPath, writeErr)
			}
			copied += int64(n)
			c.Metrics.AddBytesWritten(int64(n))

			elapsed := time.Since(start)
			if elapsed < minElapsed {
				elapsed = minElapsed
			}
			bps := float64(copied) / elapsed.Seconds()
			sink(fmt.Sprintf("Copying %s: %d/%d bytes (%.2f MB/s)", base, copied, total, bps/1024/1024))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Outcome{}, fmt.Errorf("failed to read chunk from %s: %w", srcPath, readErr)
		}
	}

	// Close flushes data to disk. It must happen before Chtimes, because
	// flushing can update the destination's modification time.
	if err := out.Close(); err != nil {
		return Outcome{}, fmt.Errorf("failed to close destination file %s: %w", dstPath, err)
	}

	// Best-effort metadata preservation. Content is already transferred
	// correctly; timestamp and permission fidelity is a courtesy.
	if err := os.Chmod(dstPath, srcInfo.Mode().Perm()); err != nil {
		plog.Debug("Could not copy permissions", "path", dstPath, "error", err)
	}
	if err := os.Chtimes(dstPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		plog.Debug("Could not copy timestamps", "path", dstPath, "error", err)
	}

	elapsed := time.Since(start)
	if elapsed < minElapsed {
		elapsed = minElapsed
	}

	c.Metrics.AddFilesCopied(1)
	return Outcome{Performed: true, BytesPerSec: float64(copied) / elapsed.Seconds()}, nil
}

package processor

import (
	"fmt"
	"os"
	"path/filepath"

	"roundicon/pkg/logger"
	"roundicon/pkg/metrics"
)

// TempPrefix starts the name of every temp file the processor creates.
const TempPrefix = ".roundicon-"

type output struct {
	path string
	data []byte
}

// writeOutputs writes every output or none: on failure the files already
// written by this call are removed again.
func writeOutputs(dir string, outputs []output) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var total int64
	for i, o := range outputs {
		if err := writeFileAtomic(o.path, o.data); err != nil {
			for _, done := range outputs[:i] {
				if rmErr := os.Remove(done.path); rmErr != nil {
					logger.Warn("Failed to remove partial output %s: %v", done.path, rmErr)
				}
			}
			return err
		}
		total += int64(len(o.data))
		logger.Debug("Wrote %s (%d bytes)", o.path, len(o.data))
	}
	metrics.Get().AddWritten(len(outputs), total)
	return nil
}

// writeFileAtomic replaces path with data through a temp file in the same
// directory, so readers never observe a half-written file.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), TempPrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmp := f.Name()

	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp, 0o644)
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

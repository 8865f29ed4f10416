package logger

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CappedFile is a log file that keeps at most maxLines of the most recent output.
// Lines are appended normally; once 2*maxLines have been written since the last
// compaction the file is rewritten with only the newest maxLines.
type CappedFile struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	maxLines int
	recent   [][]byte
	written  int
	rename   func(oldpath, newpath string) error
}

// OpenCappedFile opens or creates the log file at path.
// A maxLines of zero or less disables compaction.
func OpenCappedFile(path string, maxLines int) (*CappedFile, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file %s: %w", path, err)
	}

	return &CappedFile{
		file:     file,
		path:     path,
		maxLines: maxLines,
		rename:   os.Rename,
	}, nil
}

// Write implements io.Writer.
func (c *CappedFile) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.file.Write(p)
	if err != nil || c.maxLines <= 0 {
		return n, err
	}

	for line := range bytes.SplitSeq(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}

		c.recent = append(c.recent, bytes.Clone(line))
		if len(c.recent) > c.maxLines {
			c.recent = c.recent[len(c.recent)-c.maxLines:]
		}

		c.written++
	}

	if c.written >= c.maxLines*2 {
		if err := c.compact(); err != nil {
			return n, fmt.Errorf("failed to compact log file: %w", err)
		}

		c.written = len(c.recent)
	}

	return n, nil
}

// Sync flushes the file to disk.
func (c *CappedFile) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.file.Sync()
}

// Close closes the underlying file.
func (c *CappedFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.file.Close()
}

// compact replaces the file with the retained lines.
// On failure the original path is reopened so later writes still reach it.
func (c *CappedFile) compact() error {
	temp, err := os.CreateTemp(filepath.Dir(c.path), "temp-log-")
	if err != nil {
		return err
	}

	tempPath := temp.Name()

	content := append(bytes.Join(c.recent, []byte("\n")), '\n')
	if _, err := temp.Write(content); err != nil {
		temp.Close()
		os.Remove(tempPath)

		return err
	}

	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	c.file.Close()

	if err := c.rename(tempPath, c.path); err != nil {
		os.Remove(tempPath)
		return errors.Join(err, c.reopen())
	}

	return c.reopen()
}

// reopen opens the path for appending, creating it if it disappeared.
func (c *CappedFile) reopen() error {
	file, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("cannot reopen log file %s: %w", c.path, err)
	}

	c.file = file

	return nil
}

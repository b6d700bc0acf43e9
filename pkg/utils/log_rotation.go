package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

const backupTimeFormat = "20060102T150405.000000000"

// RotationConfig holds configuration for log rotation
type RotationConfig struct {
	Filename string

	// MaxSize is the size in megabytes that triggers rotation
	MaxSize int64

	// MaxBackups is the number of rotated files to keep (0 keeps all)
	MaxBackups int

	// Compress gzips rotated files
	Compress bool
}

// LogRotator is an io.Writer over a log file that is moved aside once it reaches MaxSize.
// Rotated files are named <name>-<UTC timestamp><ext>, with .gz appended when compressed.
type LogRotator struct {
	mu     sync.Mutex
	config RotationConfig
	file   *os.File
	size   int64
	now    func() time.Time
}

// NewLogRotator opens (or creates) the log file and appends to it.
func NewLogRotator(config RotationConfig) (*LogRotator, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("log rotation requires a filename")
	}
	lr := &LogRotator{config: config, now: time.Now}
	if err := lr.open(); err != nil {
		return nil, err
	}
	return lr, nil
}

// Write implements io.Writer. A single write larger than MaxSize still lands in one file.
func (lr *LogRotator) Write(p []byte) (int, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return 0, os.ErrClosed
	}
	if limit := lr.config.MaxSize << 20; limit > 0 && lr.size > 0 && lr.size+int64(len(p)) > limit {
		if err := lr.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := lr.file.Write(p)
	lr.size += int64(n)
	return n, err
}

// Close closes the log file. Later writes fail with os.ErrClosed.
func (lr *LogRotator) Close() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return nil
	}
	err := lr.file.Close()
	lr.file = nil
	return err
}

// Rotate moves the current file aside immediately.
func (lr *LogRotator) Rotate() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.rotate()
}

// Backups lists rotated files, oldest first.
func (lr *LogRotator) Backups() ([]string, error) {
	dir, base := filepath.Split(lr.config.Filename)
	if dir == "" {
		dir = "."
	}
	prefix := strings.TrimSuffix(base, filepath.Ext(base)) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var backups []string
	for _, entry := range entries {
		if name := entry.Name(); name != base && strings.HasPrefix(name, prefix) {
			backups = append(backups, filepath.Join(dir, name))
		}
	}
	sort.Strings(backups)
	return backups, nil
}

func (lr *LogRotator) rotate() error {
	if lr.file != nil {
		if err := lr.file.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		lr.file = nil
	}

	backup := lr.backupName()
	if err := os.Rename(lr.config.Filename, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	if lr.config.Compress {
		if err := compressFile(backup); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to compress %s: %w", backup, err)
		}
	}
	if err := lr.prune(); err != nil {
		return fmt.Errorf("failed to prune log backups: %w", err)
	}
	return lr.open()
}

func (lr *LogRotator) open() error {
	if err := os.MkdirAll(filepath.Dir(lr.config.Filename), 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(lr.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	lr.file = file
	lr.size = info.Size()
	return nil
}

func (lr *LogRotator) backupName() string {
	ext := filepath.Ext(lr.config.Filename)
	stem := strings.TrimSuffix(lr.config.Filename, ext)
	return fmt.Sprintf("%s-%s%s", stem, lr.now().UTC().Format(backupTimeFormat), ext)
}

func (lr *LogRotator) prune() error {
	if lr.config.MaxBackups <= 0 {
		return nil
	}
	backups, err := lr.Backups()
	if err != nil {
		return err
	}
	for len(backups) > lr.config.MaxBackups {
		if err := os.Remove(backups[0]); err != nil && !os.IsNotExist(err) {
			return err
		}
		backups = backups[1:]
	}
	return nil
}

// compressFile replaces path with path.gz.
func compressFile(path string) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path + ".gz")
		}
	}()

	zw := gzip.NewWriter(dst)
	if _, err = io.Copy(zw, src); err != nil {
		return err
	}
	if err = zw.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

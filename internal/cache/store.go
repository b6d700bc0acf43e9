package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

// SpillExt is the extension of every file a Store writes.
const SpillExt = ".spill"

// spillCounter is process-wide so stores sharing a directory never hand out the same name.
var spillCounter atomic.Uint64

// Store writes field buffers to a spill directory and reads them back.
type Store struct {
	directory   string
	compression Compression
	logger      *logrus.Entry

	mu    sync.Mutex
	stats types.SpillStats
}

// StoreConfig represents spill store configuration
type StoreConfig struct {
	Directory   string `yaml:"directory"`
	Compression string `yaml:"compression"`
}

// NewStore creates the spill directory if needed and returns a store writing into it.
func NewStore(config *StoreConfig, logger *logrus.Entry) (*Store, error) {
	if config == nil || config.Directory == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "spill directory is required").
			WithComponent("cache")
	}
	codec, err := ParseCompression(config.Compression)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid spill compression").
			WithComponent("cache")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	dir, err := filepath.Abs(config.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Store{
		directory:   dir,
		compression: codec,
		logger:      logger.WithField("directory", dir),
		stats:       types.SpillStats{Directory: dir},
	}, nil
}

// Directory returns the absolute spill directory.
func (s *Store) Directory() string {
	return s.directory
}

// NewPath returns a spill path no other field in this process has been given.
func (s *Store) NewPath() string {
	name := fmt.Sprintf("field_%d_%d%s", time.Now().UnixMilli(), spillCounter.Add(1), SpillExt)
	return filepath.Join(s.directory, name)
}

// Write serializes data to path, replacing any previous contents atomically. The returned size
// is the number of bytes on disk.
func (s *Store) Write(path string, data [][]float32) (int64, error) {
	size, err := s.write(path, data)

	s.mu.Lock()
	if err != nil {
		s.stats.Failures++
	} else {
		s.stats.Writes++
	}
	s.mu.Unlock()

	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeCacheWriteFailed, err, "failed to write spill file").
			WithComponent("cache").
			WithOperation("write").
			WithContext("path", path)
	}

	s.logger.WithFields(logrus.Fields{
		"path":  filepath.Base(path),
		"size":  humanize.Bytes(uint64(size)),
		"codec": s.compression,
	}).Debug("spilled field buffer")
	return size, nil
}

func (s *Store) write(path string, data [][]float32) (int64, error) {
	encoded, err := encode(data, s.compression)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName) // Clean up on error, ignore result
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return int64(len(encoded)), nil
}

// Read deserializes the spill file at path.
func (s *Store) Read(path string) ([][]float32, error) {
	data, err := ReadFile(path)

	s.mu.Lock()
	if err != nil {
		s.stats.Failures++
	} else {
		s.stats.Reads++
	}
	s.mu.Unlock()

	return data, err
}

// ReadFile deserializes a spill file. The codec is recorded in the file, so any store's files
// can be read regardless of the current configuration.
func ReadFile(path string) ([][]float32, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheReadFailed, err, "failed to read spill file").
			WithComponent("cache").
			WithOperation("read").
			WithContext("path", path)
	}
	data, err := decode(b)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheReadFailed, err, "corrupt spill file").
			WithComponent("cache").
			WithOperation("read").
			WithContext("path", path)
	}
	return data, nil
}

// Exists reports whether a spill file is present at path.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes one spill file inside the store's directory. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := utils.ValidatePathWithinBase(s.directory, path); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidArgument, err, "refusing to remove file").
			WithComponent("cache").
			WithContext("path", path)
	}
	if !isSpillName(filepath.Base(path)) {
		return errors.NewError(errors.ErrCodeInvalidArgument, "not a spill file").
			WithComponent("cache").
			WithContext("path", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Clear removes every spill file in the directory and returns how many were removed. Fields
// whose files disappear report missing data on their next reload.
func (s *Store) Clear() (int, error) {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isSpillName(entry.Name()) {
			continue
		}
		path, err := utils.SecureJoin(s.directory, entry.Name())
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}

	s.logger.WithField("files", removed).Info("cleared spill directory")
	return removed, nil
}

// Stats returns counters plus the current on-disk footprint.
func (s *Store) Stats() types.SpillStats {
	s.mu.Lock()
	stats := s.stats
	s.mu.Unlock()

	stats.Files, stats.Bytes = 0, 0
	if entries, err := os.ReadDir(s.directory); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !isSpillName(entry.Name()) {
				continue
			}
			if info, err := entry.Info(); err == nil {
				stats.Files++
				stats.Bytes += info.Size()
			}
		}
	}
	stats.Updated = time.Now()
	return stats
}

// isSpillName matches finished spill files and leftover temporaries from interrupted writes.
func isSpillName(name string) bool {
	return strings.HasPrefix(name, "field_") &&
		(strings.HasSuffix(name, SpillExt) || strings.Contains(name, SpillExt+".tmp"))
}

package relaylist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Resinat/Relayd/internal/relay"
)

// CacheFileName is the relay list file name in both the cache and the
// resource directory.
const CacheFileName = "relays.json"

// ReadCacheFile reads and parses a relay list file.
func ReadCacheFile(path string) (*relay.RelayList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("relaylist: read %s: %w", path, err)
	}
	list, err := relay.ParseRelayList(data)
	if err != nil {
		return nil, fmt.Errorf("relaylist: %s: %w", path, err)
	}
	return list, nil
}

// WriteCacheFile writes list as pretty-printed JSON. The file is written to
// a temp file in the same directory and renamed into place.
func WriteCacheFile(path string, list *relay.RelayList) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("relaylist: encode: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("relaylist: create cache dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("relaylist: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("relaylist: write temp: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("relaylist: sync temp: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("relaylist: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("relaylist: atomic replace: %w", err)
	}
	return nil
}

type loadedList struct {
	list    *relay.RelayList
	modTime time.Time
	path    string
}

func loadWithModTime(path string) (loadedList, error) {
	info, err := os.Stat(path)
	if err != nil {
		return loadedList{}, fmt.Errorf("relaylist: stat %s: %w", path, err)
	}
	list, err := ReadCacheFile(path)
	if err != nil {
		return loadedList{}, err
	}
	return loadedList{list: list, modTime: info.ModTime(), path: path}, nil
}

// FromFile builds a store from whichever of the cache file and the bundled
// resource is more recent. The cache is used only when its modification
// time is strictly newer, or when the bundled resource cannot be read.
// The chosen file's modification time becomes LastUpdated.
func FromFile(cachePath, bundledPath string, overrides []relay.Override, cfg StoreConfig) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("relaylist")

	loaded, err := pickSource(cachePath, bundledPath, log)
	if err != nil {
		return nil, err
	}
	log.Info("loaded relay list",
		zap.String("path", loaded.path),
		zap.Time("modified", loaded.modTime),
		zap.Int("relays", loaded.list.RelayCount()))
	return NewStore(cfg, loaded.list, overrides, loaded.modTime), nil
}

func pickSource(cachePath, bundledPath string, log *zap.Logger) (loadedList, error) {
	bundledInfo, bundledErr := os.Stat(bundledPath)
	if bundledErr != nil {
		log.Warn("bundled relay list unavailable, using cache", zap.String("path", bundledPath), zap.Error(bundledErr))
		cached, err := loadWithModTime(cachePath)
		if err != nil {
			return loadedList{}, multierr.Append(fmt.Errorf("relaylist: bundled: %w", bundledErr), err)
		}
		return cached, nil
	}

	var cacheErr error
	if cacheInfo, err := os.Stat(cachePath); err == nil && cacheInfo.ModTime().After(bundledInfo.ModTime()) {
		cached, err := loadWithModTime(cachePath)
		if err == nil {
			return cached, nil
		}
		log.Warn("failed to load cached relay list", zap.Error(err))
		cacheErr = err
	}

	bundled, err := loadWithModTime(bundledPath)
	if err == nil {
		return bundled, nil
	}
	if cacheErr != nil {
		return loadedList{}, multierr.Append(cacheErr, err)
	}
	log.Warn("failed to load bundled relay list, trying cache", zap.Error(err))
	cached, cerr := loadWithModTime(cachePath)
	if cerr != nil {
		return loadedList{}, multierr.Append(err, cerr)
	}
	return cached, nil
}

// Package config provides a configuration manager that loads and watches a JSON
// configuration file describing the asset kinds the service accepts.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pixeldepot/pixeldepot/internal/constants"
	"github.com/ubuntu/decorate"
)

// Provider is an interface that defines methods to access configuration values.
type Provider interface {
	AllowedKinds() []string
	IsAllowed(kind string) bool
	FormatAllowed(kind, filename string) bool
}

// Conf represents the configuration structure.
type Conf struct {
	AllowedKinds []string            `json:"allowedKinds"`
	Formats      map[string][]string `json:"formats"`
}

// defaultKinds applies when the config file is missing or names no kinds, so
// a fresh deployment serves the two classic kinds without any config.
var defaultKinds = []string{constants.SpriteKind, constants.AudioKind}

// reservedNames can never be asset kinds. They would collide with fixed routes
// or with the score collection, which is not an asset kind.
var reservedNames = map[string]struct{}{
	"assets":  {},
	"upload":  {},
	"scores":  {},
	"version": {},
	"metrics": {},
}

// Manager is a struct that manages the configuration.
type Manager struct {
	allowList []string
	allowSet  map[string]struct{}
	formats   map[string][]string
	lock      sync.RWMutex

	configPath string

	log *slog.Logger
}

type options struct {
	Logger *slog.Logger
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// New creates a new configuration manager with the specified path.
func New(path string, args ...Options) *Manager {
	opts := options{
		Logger: slog.Default(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{
		configPath: path,
		log:        opts.Logger,
	}
}

// Load reads the configuration from the specified file and updates the internal state.
//
// Kind names are lowercased, and reserved or duplicate names are dropped.
// A missing file, or a file which ends up naming no kinds at all, falls back
// to the default allowed kinds.
func (cm *Manager) Load() (err error) {
	defer decorate.OnError(&err, "failed to load config from %s", cm.configPath)

	newConfig, err := cm.readFile()
	if err != nil {
		return err
	}

	allowList := make([]string, 0, len(newConfig.AllowedKinds))
	allowSet := make(map[string]struct{}, len(newConfig.AllowedKinds))
	for _, kind := range newConfig.AllowedKinds {
		kind = strings.ToLower(strings.TrimSpace(kind))
		if kind == "" {
			continue
		}
		if _, reserved := reservedNames[kind]; reserved {
			cm.log.Warn("Ignoring reserved kind name", "kind", kind)
			continue
		}
		if _, dup := allowSet[kind]; dup {
			continue
		}
		allowSet[kind] = struct{}{}
		allowList = append(allowList, kind)
	}

	if len(allowList) == 0 {
		cm.log.Warn("No allowed kinds configured, using defaults", "kinds", defaultKinds)
		for _, kind := range defaultKinds {
			allowSet[kind] = struct{}{}
			allowList = append(allowList, kind)
		}
	}

	formats := make(map[string][]string, len(newConfig.Formats))
	for kind, exts := range newConfig.Formats {
		kind = strings.ToLower(strings.TrimSpace(kind))
		cleaned := make([]string, 0, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext == "" {
				continue
			}
			cleaned = append(cleaned, ext)
		}
		if len(cleaned) > 0 {
			formats[kind] = cleaned
		}
	}

	cm.lock.Lock()
	cm.allowList = allowList
	cm.allowSet = allowSet
	cm.formats = formats
	cm.lock.Unlock()

	cm.log.Info("Configuration loaded", "kinds", allowList)
	return nil
}

// readFile parses the config file. A missing file is not an error, the
// defaults apply until the file shows up.
func (cm *Manager) readFile() (Conf, error) {
	file, err := os.Open(cm.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cm.log.Warn("Config file not found, using defaults", "path", cm.configPath)
		return Conf{}, nil
	}
	if err != nil {
		return Conf{}, err
	}
	defer file.Close()

	var conf Conf
	if err := json.NewDecoder(file).Decode(&conf); err != nil {
		return Conf{}, fmt.Errorf("decoding config JSON: %w", err)
	}
	return conf, nil
}

// Watch loads the configuration, then starts watching the configuration file
// for changes.
//
// It returns two channels: one for configuration changes which result in a
// successful load and another for unrecoverable watcher errors.
func (cm *Manager) Watch(ctx context.Context) (changes <-chan struct{}, errors <-chan error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	configDir, _ := filepath.Split(cm.configPath)
	if configDir == "" {
		configDir = "."
	}
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", configDir, err)
	}

	if err := cm.Load(); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("initial configuration load failed: %w", err)
	}

	cm.log.Info("Watching configuration directory", "dir", configDir)
	changesCh := make(chan struct{}, 1)
	errorsCh := make(chan error, 1)

	go func() {
		defer close(changesCh)
		defer close(errorsCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				cm.log.Info("Configuration watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					errorsCh <- fmt.Errorf("watcher events channel closed unexpectedly")
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				if event.Name != cm.configPath {
					continue
				}

				cm.log.Debug("Configuration file changed. Reloading...")
				if err := cm.Load(); err != nil {
					cm.log.Warn("Error reloading config", "err", err)
					continue
				}

				select {
				case changesCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- fmt.Errorf("watcher errors channel closed unexpectedly")
					return
				}
				cm.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return changesCh, errorsCh, nil
}

// AllowedKinds returns the allowed asset kinds from the configuration.
func (cm *Manager) AllowedKinds() []string {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.allowList
}

// IsAllowed returns true if the given kind is in the allowed kinds.
func (cm *Manager) IsAllowed(kind string) bool {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	_, ok := cm.allowSet[kind]
	return ok
}

// FormatAllowed returns true if the filename extension is accepted for the
// given kind. Kinds without a configured format list accept everything.
func (cm *Manager) FormatAllowed(kind, filename string) bool {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	exts := cm.formats[kind]
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return slices.Contains(exts, ext)
}

package krb5

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/marmos91/dittopam/internal/logger"
)

// keytabPollInterval is how often the keytab file is checked for changes.
var keytabPollInterval = 60 * time.Second

// keytabSource holds the validation keytab and reloads it when the file
// changes. Key management tools usually replace keytabs by rename, which
// polling the modification time survives.
type keytabSource struct {
	path string

	mu      sync.RWMutex
	kt      *keytab.Keytab
	lastMod time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func openKeytab(path string) (*keytabSource, error) {
	s := &keytabSource{path: path, stopCh: make(chan struct{})}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Keytab returns the current keytab.
func (s *keytabSource) Keytab() *keytab.Keytab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kt
}

// reload reads the file again. On failure the previous keytab stays active.
func (s *keytabSource) reload() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("keytab not accessible: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read keytab %s: %w", s.path, err)
	}
	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return fmt.Errorf("parse keytab %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.kt = kt
	s.lastMod = info.ModTime()
	s.mu.Unlock()
	return nil
}

// changed reports whether the file's modification time moved.
func (s *keytabSource) changed() bool {
	info, err := os.Stat(s.path)
	if err != nil {
		logger.Error("Keytab file stat failed", "path", s.path, logger.Err(err))
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !info.ModTime().Equal(s.lastMod)
}

// watch polls the keytab until stop is called.
func (s *keytabSource) watch() {
	ticker := time.NewTicker(keytabPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.changed() {
				continue
			}
			if err := s.reload(); err != nil {
				logger.Error("Keytab reload failed", "path", s.path, logger.Err(err))
				continue
			}
			logger.Info("Keytab reloaded", "path", s.path)
		case <-s.stopCh:
			return
		}
	}
}

func (s *keytabSource) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

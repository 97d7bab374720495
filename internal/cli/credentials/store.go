// Package credentials stores the control API endpoints and bearer tokens
// used by dpam's client commands.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	// DefaultConfigDir is the directory under $XDG_CONFIG_HOME.
	DefaultConfigDir = "dittopam"
	// ConfigFileName is the name of the credentials file.
	ConfigFileName = "credentials.json"
	// FilePermissions for the credentials file (read/write for owner only).
	FilePermissions = 0600
	// DirPermissions for the config directory.
	DirPermissions = 0700
)

var (
	// ErrNoCurrentContext indicates no context is currently set.
	ErrNoCurrentContext = errors.New("no current context set")
	// ErrContextNotFound indicates the requested context doesn't exist.
	ErrContextNotFound = errors.New("context not found")
	// ErrNotLoggedIn indicates no valid credentials exist.
	ErrNotLoggedIn = errors.New("not logged in - run 'dpam login' first")
)

// Context is one control API endpoint and its token.
type Context struct {
	ServerURL string    `json:"server_url"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsExpired returns true if the token has expired or expires within a
// minute. A zero ExpiresAt never expires.
func (c *Context) IsExpired() bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(60 * time.Second).After(c.ExpiresAt)
}

// Config is the on-disk credentials file.
type Config struct {
	CurrentContext string              `json:"current_context"`
	Contexts       map[string]*Context `json:"contexts"`
}

// Store manages credential storage and retrieval.
type Store struct {
	configPath string
	config     *Config
}

// NewStore opens the credentials file, starting empty when it does not
// exist yet.
func NewStore() (*Store, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	store := &Store{configPath: configPath}
	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		store.config = &Config{Contexts: make(map[string]*Context)}
	}
	return store, nil
}

func getConfigPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, DefaultConfigDir, ConfigFileName), nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.configPath)
	if err != nil {
		return err
	}

	s.config = &Config{}
	if err := json.Unmarshal(data, s.config); err != nil {
		return fmt.Errorf("corrupt credentials file %s: %w", s.configPath, err)
	}
	if s.config.Contexts == nil {
		s.config.Contexts = make(map[string]*Context)
	}
	return nil
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.configPath), DirPermissions); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(s.config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.configPath, data, FilePermissions)
}

// Current returns the current context.
func (s *Store) Current() (*Context, error) {
	if s.config.CurrentContext == "" {
		return nil, ErrNoCurrentContext
	}
	ctx, ok := s.config.Contexts[s.config.CurrentContext]
	if !ok {
		return nil, ErrContextNotFound
	}
	return ctx, nil
}

// CurrentName returns the name of the current context.
func (s *Store) CurrentName() string {
	return s.config.CurrentContext
}

// Get returns a context by name.
func (s *Store) Get(name string) (*Context, error) {
	ctx, ok := s.config.Contexts[name]
	if !ok {
		return nil, ErrContextNotFound
	}
	return ctx, nil
}

// List returns the context names in sorted order.
func (s *Store) List() []string {
	names := make([]string, 0, len(s.config.Contexts))
	for name := range s.config.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set creates or replaces a context and makes it current.
func (s *Store) Set(name string, ctx *Context) error {
	s.config.Contexts[name] = ctx
	s.config.CurrentContext = name
	return s.save()
}

// Use switches to a different context.
func (s *Store) Use(name string) error {
	if _, ok := s.config.Contexts[name]; !ok {
		return ErrContextNotFound
	}
	s.config.CurrentContext = name
	return s.save()
}

// Delete removes a context.
func (s *Store) Delete(name string) error {
	if _, ok := s.config.Contexts[name]; !ok {
		return ErrContextNotFound
	}
	delete(s.config.Contexts, name)
	if s.config.CurrentContext == name {
		s.config.CurrentContext = ""
	}
	return s.save()
}

// ConfigPath returns the path to the credentials file.
func (s *Store) ConfigPath() string {
	return s.configPath
}

// Package credentials supplies the opaque upstream credentials (session
// cookie plus the dynamic bot-challenge token) that must accompany every
// upstream call. Acquisition and refresh happen out-of-band; this package
// only surfaces the current values and their validity.
package credentials

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Credentials are the header values attached to upstream requests. Both are
// opaque to the gateway.
type Credentials struct {
	// Cookie is the upstream session cookie, sent verbatim.
	Cookie string `json:"cookie"`
	// ChallengeToken is the dynamic bot-challenge token.
	ChallengeToken string `json:"challenge_token"`
	// ExpiresAt, when set, is the moment the extractor expects these values
	// to stop working.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Provider exposes current header values and their validity.
type Provider interface {
	Current() (Credentials, error)
	Valid() bool
}

// Static is a fixed-value provider, used for inline config and tests.
type Static struct {
	Creds Credentials
}

func (s Static) Current() (Credentials, error) { return s.Creds, nil }

func (s Static) Valid() bool {
	return s.Creds.Cookie != "" && (s.Creds.ExpiresAt.IsZero() || time.Now().Before(s.Creds.ExpiresAt))
}

// FileProvider reads credentials from a JSON file maintained by the external
// extractor and hot-reloads it when the file changes.
type FileProvider struct {
	path string

	mu    sync.RWMutex
	creds Credentials
}

// NewFileProvider loads the credential file once and returns the provider.
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Current returns the latest loaded credentials.
func (p *FileProvider) Current() (Credentials, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.creds, nil
}

// Valid reports whether the loaded credentials look usable.
func (p *FileProvider) Valid() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.creds.Cookie == "" {
		return false
	}
	return p.creds.ExpiresAt.IsZero() || time.Now().Before(p.creds.ExpiresAt)
}

// Watch reloads the credential file whenever the extractor rewrites it.
// Blocks until ctx is done.
func (p *FileProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if errClose := watcher.Close(); errClose != nil {
			log.Errorf("credential watcher: close error: %v", errClose)
		}
	}()

	// Watch the directory: extractors typically replace the file atomically
	// (write temp + rename), which drops the watch on the file itself.
	if err = watcher.Add(filepath.Dir(p.path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if errReload := p.reload(); errReload != nil {
				log.Warnf("credential reload failed: %v", errReload)
				continue
			}
			log.Info("upstream credentials reloaded")
		case errWatch, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("credential watcher error: %v", errWatch)
		}
	}
}

func (p *FileProvider) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	var creds Credentials
	if err = json.Unmarshal(data, &creds); err != nil {
		return err
	}
	p.mu.Lock()
	p.creds = creds
	p.mu.Unlock()
	return nil
}

package profile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/log"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/metrics"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
)

// Layout names below the profile root.
const (
	MasterDirName = "master"
	ClonesDirName = "clones"
	LockFileName  = "master.lock"
)

// skipFiles are browser runtime artifacts that must not be copied into a
// clone; a copied SingletonLock makes Chromium refuse the directory.
var skipFiles = map[string]bool{
	"SingletonLock":   true,
	"SingletonSocket": true,
	"SingletonCookie": true,
	"lockfile":        true,
	"parent.lock":     true,
	LockFileName:      true,
}

// Session is an acquired profile directory. Path is empty for sessions of a
// disabled manager or of model.ProfileNone; callers then run without a
// persistent profile. Release must always be called and is idempotent.
type Session struct {
	Path string
	Mode model.ProfileMode

	once    sync.Once
	release func() error
	err     error
}

// Release gives the directory back: a write session drops the master lock,
// a read session deletes its clone.
func (s *Session) Release() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if s.release != nil {
			s.err = s.release()
		}
	})
	return s.err
}

// Manager hands out write access to the master profile directory and
// disposable read clones of it.
//
// Layout under root:
//
//	master/          canonical profile, written only under the lock
//	master.lock      OS file lock held by the single writer
//	clones/<uuid>/   read clones, deleted on release
type Manager struct {
	// root is the profile root; empty disables the manager.
	root string

	// param is the fetch parameter that will carry the path; empty disables the manager.
	param string

	logger  *slog.Logger
	metrics *metrics.Metrics
	once    *log.Once
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records session acquisitions.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager returns a manager over root. param is the fetch parameter name
// the client uses for profile directories; when either is empty every
// session is a no-op and a single Info line says so.
func NewManager(root, param string, opts ...Option) *Manager {
	m := &Manager{
		root:   root,
		param:  param,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.once = log.NewOnce(m.logger)
	return m
}

// Enabled reports whether sessions produce real directories.
func (m *Manager) Enabled() bool {
	return m.root != "" && m.param != ""
}

// Root returns the profile root.
func (m *Manager) Root() string { return m.root }

// MasterDir returns the canonical profile directory.
func (m *Manager) MasterDir() string { return filepath.Join(m.root, MasterDirName) }

// ClonesDir returns the directory holding read clones.
func (m *Manager) ClonesDir() string { return filepath.Join(m.root, ClonesDirName) }

// LockPath returns the master lock file path.
func (m *Manager) LockPath() string { return filepath.Join(m.root, LockFileName) }

// Acquire dispatches to AcquireWrite or AcquireRead. ProfileNone returns a
// no-op session.
func (m *Manager) Acquire(mode model.ProfileMode) (*Session, error) {
	switch mode {
	case model.ProfileWrite:
		return m.AcquireWrite()
	case model.ProfileRead:
		return m.AcquireRead()
	default:
		return &Session{Mode: model.ProfileNone}, nil
	}
}

func (m *Manager) disabled(mode model.ProfileMode) *Session {
	reason := "no profile root configured"
	if m.root != "" {
		reason = "fetch client has no profile directory parameter"
	}
	m.once.Info("disabled", "profile persistence disabled, continuing without a profile", "reason", reason)
	return &Session{Mode: mode}
}

// AcquireWrite locks the master directory without blocking. If another
// session holds the lock it returns ErrWriteLocked immediately.
func (m *Manager) AcquireWrite() (*Session, error) {
	if !m.Enabled() {
		return m.disabled(model.ProfileWrite), nil
	}

	if err := os.MkdirAll(m.MasterDir(), 0o700); err != nil {
		m.metrics.ProfileSession("write", "error")
		return nil, fmt.Errorf("failed to create profile master: %w", err)
	}

	lock := flock.New(m.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		m.metrics.ProfileSession("write", "error")
		return nil, fmt.Errorf("failed to lock %s: %w", m.LockPath(), err)
	}
	if !locked {
		m.metrics.ProfileSession("write", "locked")
		return nil, ErrWriteLocked
	}

	m.metrics.ProfileSession("write", "ok")
	m.logger.Debug("acquired profile write lock", "path", m.MasterDir())
	return &Session{
		Path: m.MasterDir(),
		Mode: model.ProfileWrite,
		release: func() error {
			if err := lock.Unlock(); err != nil {
				return fmt.Errorf("failed to unlock %s: %w", m.LockPath(), err)
			}
			m.logger.Debug("released profile write lock", "path", m.MasterDir())
			return nil
		},
	}, nil
}

// AcquireRead copies the master directory into a new clone. It does not
// touch the write lock, so a concurrent writer may leave the clone slightly
// stale. A missing master gives an empty clone.
func (m *Manager) AcquireRead() (*Session, error) {
	if !m.Enabled() {
		return m.disabled(model.ProfileRead), nil
	}

	clone := filepath.Join(m.ClonesDir(), uuid.New().String())
	if err := copyTree(m.MasterDir(), clone); err != nil {
		_ = os.RemoveAll(clone)
		m.metrics.ProfileSession("read", "error")
		return nil, &CloneError{Clone: clone, Err: err}
	}

	m.metrics.ProfileSession("read", "ok")
	m.metrics.CloneAdded(1)
	m.logger.Debug("created profile clone", "path", clone)
	return &Session{
		Path: clone,
		Mode: model.ProfileRead,
		release: func() error {
			m.metrics.CloneAdded(-1)
			if err := os.RemoveAll(clone); err != nil {
				return fmt.Errorf("failed to remove clone %s: %w", clone, err)
			}
			m.logger.Debug("removed profile clone", "path", clone)
			return nil
		},
	}, nil
}

// copyTree copies regular files and directories from src into dst.
// Symlinks, sockets and browser lock files are skipped.
func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return err
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o700)
		case !d.Type().IsRegular():
			return nil
		case skipFiles[d.Name()]:
			return nil
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}

	in, err := os.Open(src) //nolint:gosec // path comes from walking our own master dir
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o600) //nolint:gosec // see above
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}

// CloneInfo describes one clone directory on disk.
type CloneInfo struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
}

// Status is a snapshot of the profile root.
type Status struct {
	Root         string      `json:"root"`
	Enabled      bool        `json:"enabled"`
	MasterExists bool        `json:"master_exists"`
	WriteLocked  bool        `json:"write_locked"`
	Clones       []CloneInfo `json:"clones"`
}

// Status inspects the profile root. Probing the lock takes it for an
// instant, so a writer racing with Status may see ErrWriteLocked.
func (m *Manager) Status() (Status, error) {
	st := Status{Root: m.root, Enabled: m.Enabled()}
	if m.root == "" {
		return st, nil
	}

	if info, err := os.Stat(m.MasterDir()); err == nil && info.IsDir() {
		st.MasterExists = true
	}

	if _, err := os.Stat(m.LockPath()); err == nil {
		lock := flock.New(m.LockPath())
		locked, err := lock.TryLock()
		if err != nil {
			return st, fmt.Errorf("failed to probe %s: %w", m.LockPath(), err)
		}
		if locked {
			_ = lock.Unlock()
		}
		st.WriteLocked = !locked
	}

	clones, err := m.listClones()
	if err != nil {
		return st, err
	}
	st.Clones = clones
	return st, nil
}

func (m *Manager) listClones() ([]CloneInfo, error) {
	entries, err := os.ReadDir(m.ClonesDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list clones: %w", err)
	}

	var out []CloneInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, CloneInfo{
			ID:      e.Name(),
			Path:    filepath.Join(m.ClonesDir(), e.Name()),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.Before(out[j].ModTime) })
	return out, nil
}

// PruneClones removes clones last modified more than olderThan ago. They are
// leftovers of processes that died before releasing their session.
func (m *Manager) PruneClones(olderThan time.Duration) (int, error) {
	clones, err := m.listClones()
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, c := range clones {
		if c.ModTime.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(c.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		m.logger.Info("pruned stale profile clone", "path", c.Path, "modified", c.ModTime.Format(time.RFC3339))
	}
	return removed, errors.Join(errs...)
}

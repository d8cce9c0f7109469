package identity

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/approval-engine/internal/application/port"
)

type directoryFile struct {
	Users map[string]userEntry `yaml:"users"`
}

type userEntry struct {
	Roles       []string `yaml:"roles"`
	DelegatesTo []string `yaml:"delegates_to"`
	Disabled    bool     `yaml:"disabled"`
}

type user struct {
	roles     map[string]struct{}
	delegates []string
}

// Directory is a file-backed user directory holding roles and delegation targets.
// Disabled users hold no roles and cannot delegate.
type Directory struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	users map[string]user
}

// NewDirectory loads the directory from a YAML file
func NewDirectory(path string, logger *zap.Logger) (*Directory, error) {
	d := &Directory{path: path, logger: logger}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewStaticDirectory builds a directory from an in-memory role map, used in tests and tooling
func NewStaticDirectory(roles map[string][]string, delegates map[string][]string) *Directory {
	users := make(map[string]user, len(roles))
	for id, rs := range roles {
		users[id] = newUser(rs, delegates[id])
	}
	for id, ds := range delegates {
		if _, ok := users[id]; !ok {
			users[id] = newUser(nil, ds)
		}
	}
	return &Directory{logger: zap.NewNop(), users: users}
}

// Reload re-reads the directory file
func (d *Directory) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("failed to read directory file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc directoryFile
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to parse directory: %w", err)
	}

	users := make(map[string]user, len(doc.Users))
	for id, e := range doc.Users {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("directory contains an empty user id")
		}
		if e.Disabled {
			continue
		}
		for _, t := range e.DelegatesTo {
			if t == id {
				return fmt.Errorf("user %s lists itself as a delegation target", id)
			}
		}
		users[id] = newUser(e.Roles, e.DelegatesTo)
	}

	d.mu.Lock()
	d.users = users
	d.mu.Unlock()

	d.logger.Info("Identity directory loaded",
		zap.String("path", d.path),
		zap.Int("users", len(users)))
	return nil
}

func newUser(roles, delegates []string) user {
	u := user{roles: make(map[string]struct{}, len(roles))}
	for _, r := range roles {
		u.roles[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	u.delegates = append([]string(nil), delegates...)
	return u
}

// HasRole implements port.IdentityDirectory. Unknown users hold no roles.
func (d *Directory) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok {
		return false, nil
	}
	_, has := u.roles[strings.ToLower(role)]
	return has, nil
}

// DelegationTargetsFor implements port.IdentityDirectory
func (d *Directory) DelegationTargetsFor(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), u.delegates...), nil
}

// Size returns the number of enabled users
func (d *Directory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

var _ port.IdentityDirectory = (*Directory)(nil)

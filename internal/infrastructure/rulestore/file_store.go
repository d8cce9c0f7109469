package rulestore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// ruleFile is the on-disk layout of the rules file
type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	ID              string           `yaml:"id"`
	Name            string           `yaml:"name"`
	TransactionType string           `yaml:"transaction_type"`
	Currency        string           `yaml:"currency"`
	Threshold       float64          `yaml:"threshold"`
	Levels          []levelEntry     `yaml:"levels"`
	Conditions      *conditionsEntry `yaml:"conditions"`
	Active          *bool            `yaml:"active"`
	CreatedBy       string           `yaml:"created_by"`
	CreatedAt       time.Time        `yaml:"created_at"`
	UpdatedAt       time.Time        `yaml:"updated_at"`
}

type levelEntry struct {
	Roles      []string `yaml:"roles"`
	RequireAll bool     `yaml:"require_all"`
}

type conditionsEntry struct {
	Weekdays  []string `yaml:"weekdays"`
	FromHour  int      `yaml:"from_hour"`
	ToHour    int      `yaml:"to_hour"`
	Locations []string `yaml:"locations"`
	Timezone  string   `yaml:"timezone"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func (e ruleEntry) toRule() (entity.ApprovalRule, error) {
	r := entity.ApprovalRule{
		ID:              e.ID,
		Name:            e.Name,
		TransactionType: orWildcard(e.TransactionType),
		Currency:        strings.ToUpper(orWildcard(e.Currency)),
		Threshold:       e.Threshold,
		Active:          e.Active == nil || *e.Active,
		CreatedBy:       e.CreatedBy,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
	for _, l := range e.Levels {
		r.Levels = append(r.Levels, entity.RuleLevel{Roles: l.Roles, RequireAll: l.RequireAll})
	}
	if c := e.Conditions; c != nil {
		cond := &entity.RuleConditions{
			FromHour:  c.FromHour,
			ToHour:    c.ToHour,
			Locations: c.Locations,
			Timezone:  c.Timezone,
		}
		for _, d := range c.Weekdays {
			wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
			if !ok {
				return r, fmt.Errorf("rule %s: unknown weekday %q", e.ID, d)
			}
			cond.Weekdays = append(cond.Weekdays, wd)
		}
		r.Conditions = cond
	}
	return r, r.Validate()
}

func orWildcard(s string) string {
	if strings.TrimSpace(s) == "" {
		return entity.Wildcard
	}
	return s
}

// Parse decodes and validates a rules document
func Parse(data []byte) ([]entity.ApprovalRule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc ruleFile
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	seen := make(map[string]bool, len(doc.Rules))
	rules := make([]entity.ApprovalRule, 0, len(doc.Rules))
	for _, e := range doc.Rules {
		r, err := e.toRule()
		if err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = true
		rules = append(rules, r)
	}
	return rules, nil
}

type snapshot struct {
	rules    []entity.ApprovalRule
	loadedAt time.Time
}

// FileStore serves approval rules from a YAML file and reloads it when it changes.
// A reload that fails validation keeps the previous rule set.
type FileStore struct {
	path   string
	logger *zap.Logger
	rules  atomic.Pointer[snapshot]

	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileStore loads path and returns a store serving it
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		logger:   logger,
		debounce: 200 * time.Millisecond,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file and swaps the rule set atomically
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return err
	}

	s.rules.Store(&snapshot{rules: rules, loadedAt: time.Now()})
	s.logger.Info("Approval rules loaded",
		zap.String("path", s.path),
		zap.Int("count", len(rules)))
	return nil
}

// FindActiveRules implements port.RuleStore
func (s *FileStore) FindActiveRules(ctx context.Context, txType, currency string) ([]entity.ApprovalRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.rules.Load()
	if snap == nil {
		return nil, fmt.Errorf("rules not loaded")
	}

	var out []entity.ApprovalRule
	for _, r := range snap.rules {
		if r.Active && r.Covers(txType, currency) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Count returns the number of loaded rules
func (s *FileStore) Count() int {
	if snap := s.rules.Load(); snap != nil {
		return len(snap.rules)
	}
	return 0
}

// Start watches the rules file. The parent directory is watched so editors
// that replace the file on save are picked up.
func (s *FileStore) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		return fmt.Errorf("rule watcher is already running")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	s.watcher = w
	s.done = make(chan struct{})
	go s.watchLoop(ctx, w, s.done)

	s.logger.Info("Watching approval rules", zap.String("path", s.path))
	return nil
}

// Stop stops watching
func (s *FileStore) Stop() error {
	s.mu.Lock()
	w, done := s.watcher, s.done
	s.watcher = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}

// Name returns the worker name for identification
func (s *FileStore) Name() string {
	return "RuleWatcher"
}

func (s *FileStore) watchLoop(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	target := filepath.Clean(s.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Coalesce the burst of events a single save produces
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := s.Reload(); err != nil {
				s.logger.Error("Rules reload rejected, keeping previous rules",
					zap.String("path", s.path),
					zap.Error(err))
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Rule watcher error", zap.Error(err))
		}
	}
}

var _ port.RuleStore = (*FileStore)(nil)

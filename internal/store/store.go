// Package store owns the canonical state document and its sibling files
// under the memory/ directory. Single-writer: every mutation path loads,
// mutates in memory, and saves via atomic replace.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iambrandonn/statekeeper/internal/fsutil"
	"github.com/iambrandonn/statekeeper/internal/state"
)

// File names under <root>/memory
const (
	DocumentFile       = "state-tracker.json"
	AuditFile          = "state-changes.md"
	DLQFile            = "state-dlq.jsonl"
	LearningEventsFile = "state-learning-events.jsonl"
	WorkerStateFile    = "state-telegram-review-state.json"
)

// Store reads and writes the canonical document and audit log
type Store struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a store rooted at rootDir (the memory/ directory lives
// directly beneath it).
func New(rootDir string, logger *slog.Logger) *Store {
	return &Store{root: rootDir, logger: logger, now: time.Now}
}

// SetClock overrides the store clock; tests use this for deterministic
// last_consistency_check values.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Root returns the state root directory
func (s *Store) Root() string {
	return s.root
}

// DocumentPath returns the canonical document path
func (s *Store) DocumentPath() string {
	return filepath.Join(s.root, "memory", DocumentFile)
}

// AuditPath returns the audit log path
func (s *Store) AuditPath() string {
	return filepath.Join(s.root, "memory", AuditFile)
}

// DLQPath returns the dead-letter log path
func (s *Store) DLQPath() string {
	return filepath.Join(s.root, "memory", DLQFile)
}

// LearningEventsPath returns the learning-event log path
func (s *Store) LearningEventsPath() string {
	return filepath.Join(s.root, "memory", LearningEventsFile)
}

// WorkerStatePath returns the confirmation-worker runtime state path
func (s *Store) WorkerStatePath() string {
	return filepath.Join(s.root, "memory", WorkerStateFile)
}

// Load reads the canonical document, bootstrapping defaults (and the
// sibling append-only logs) on first use.
func (s *Store) Load() (*state.Document, error) {
	path := s.DocumentPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.bootstrap()
		}
		return nil, fmt.Errorf("failed to read state document: %w", err)
	}

	var doc state.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state document: %w", err)
	}
	normalize(&doc)
	return &doc, nil
}

// Save writes the document atomically, stamping last_consistency_check
func (s *Store) Save(doc *state.Document) error {
	doc.LastConsistencyCheck = state.FormatTS(s.now())
	if err := fsutil.AtomicWriteJSON(s.DocumentPath(), doc); err != nil {
		return fmt.Errorf("failed to save state document: %w", err)
	}
	return nil
}

// AppendAudit appends one "- <iso> | <message>" bullet to the audit log
func (s *Store) AppendAudit(message string) error {
	line := fmt.Sprintf("- %s | %s", state.FormatTS(s.now()), message)
	if err := fsutil.AppendLine(s.AuditPath(), line); err != nil {
		return fmt.Errorf("failed to append audit line: %w", err)
	}
	return nil
}

// AuditTail returns the last n audit bullet lines (those starting "- "),
// oldest first. A missing log yields an empty slice.
func (s *Store) AuditTail(n int) ([]string, error) {
	file, err := os.Open(s.AuditPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var bullets []string
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "- ") {
			bullets = append(bullets, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	if len(bullets) > n {
		bullets = bullets[len(bullets)-n:]
	}
	return bullets, nil
}

// bootstrap creates the document with defaults plus the empty sibling logs
func (s *Store) bootstrap() (*state.Document, error) {
	doc := state.NewDocument(s.now())
	if err := fsutil.AtomicWriteJSON(s.DocumentPath(), doc); err != nil {
		return nil, fmt.Errorf("failed to bootstrap state document: %w", err)
	}

	for _, path := range []string{s.AuditPath(), s.DLQPath(), s.LearningEventsPath()} {
		if err := touch(path); err != nil {
			return nil, err
		}
	}

	s.logger.Info("bootstrapped state root", "path", s.DocumentPath())
	return doc, nil
}

// normalize fills nil maps/slices after unmarshal so mutation paths never
// nil-check
func normalize(doc *state.Document) {
	if doc.Domains == nil {
		doc.Domains = state.DefaultDomainConfigs()
	}
	if doc.SourceReliability == nil {
		doc.SourceReliability = state.DefaultSourceReliability()
	}
	if doc.Entities == nil {
		doc.Entities = make(map[string]*state.Entity)
	}
	if doc.PendingConfirmations == nil {
		doc.PendingConfirmations = make(map[string]*state.PendingPrompt)
	}
	if doc.Runtime.ProjectionHashes == nil {
		doc.Runtime.ProjectionHashes = make(map[string]string)
	}
	if doc.Runtime.AdaptiveLearning.Mode == "" {
		doc.Runtime.AdaptiveLearning = state.DefaultLearnerConfig()
	}
	if doc.Runtime.ProjectionMode == "" {
		doc.Runtime.ProjectionMode = state.ProjectionModeLegacyString
	}
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	return file.Close()
}

package session

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/souschef/internal/log"
	"github.com/tombee/souschef/pkg/errors"
	"github.com/tombee/souschef/pkg/recipe"
)

const (
	stateFileName  = "state.json"
	recipeFileName = "recipe.yaml"

	// DefaultRetentionDays is how long completed sessions are kept before
	// List cleans them up.
	DefaultRetentionDays = 7
)

// Store persists recipe sessions on disk, one directory per session under a
// project-scoped base directory. Sessions survive process restarts; the
// engine checkpoints through Save after every completed step.
type Store struct {
	baseDir       string
	retentionDays int
	logger        *slog.Logger
	mu            sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithRetentionDays overrides the session retention window.
func WithRetentionDays(days int) Option {
	return func(s *Store) {
		s.retentionDays = days
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a session store rooted at baseDir.
func NewStore(baseDir string, opts ...Option) *Store {
	s := &Store{
		baseDir:       baseDir,
		retentionDays: DefaultRetentionDays,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSessionID generates a session identifier of the form
// recipe_YYYYMMDD_HHMMSS_<4 hex>.
func NewSessionID() string {
	return fmt.Sprintf("recipe_%s_%s",
		time.Now().Format("20060102_150405"),
		uuid.NewString()[:4])
}

// Create writes the initial state for a new top-level session and, when a
// recipe file path is given, snapshots the recipe into the session directory
// for later resumption.
func (s *Store) Create(r *recipe.Recipe, projectPath, recipeFilePath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := NewSessionID()
	dir := s.sessionDir(sessionID, projectPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating session directory %s", dir)
	}

	state := &State{
		SessionID:      sessionID,
		RecipeName:     r.Name,
		RecipeVersion:  r.Version,
		Started:        time.Now().Format(time.RFC3339),
		ProjectPath:    absPath(projectPath),
		Context:        map[string]any{},
		CompletedSteps: []string{},
		IsStaged:       r.IsStaged(),
	}
	if err := s.writeState(sessionID, projectPath, state); err != nil {
		return "", err
	}

	if recipeFilePath != "" {
		if err := copyFile(recipeFilePath, filepath.Join(dir, recipeFileName)); err != nil {
			return "", errors.Wrap(err, "snapshotting recipe into session")
		}
	}

	s.logger.Info("session created",
		log.String(log.SessionIDKey, sessionID),
		log.String(log.RecipeKey, r.Name))

	return sessionID, nil
}

// Load reads the persisted state for a session.
func (s *Store) Load(sessionID, projectPath string) (*State, error) {
	path := filepath.Join(s.sessionDir(sessionID, projectPath), stateFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "session", ID: sessionID}
		}
		return nil, errors.Wrapf(err, "reading session %s", sessionID)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrapf(err, "parsing session %s", sessionID)
	}
	return &state, nil
}

// Save atomically overwrites the persisted state for a session.
func (s *Store) Save(sessionID, projectPath string, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeState(sessionID, projectPath, state)
}

// SaveProgress checkpoints execution progress for a session. Unlike Save it
// runs a load-modify-save cycle, taking only the progress fields from src, so
// a cancellation request or approval decision recorded by another writer
// while the step ran is never clobbered. Returns the merged state.
func (s *Store) SaveProgress(sessionID, projectPath string, src *State) (*State, error) {
	return s.update(sessionID, projectPath, func(state *State) error {
		state.Context = src.Context
		state.CompletedSteps = src.CompletedSteps
		state.CurrentStepIndex = src.CurrentStepIndex
		state.CurrentStageIndex = src.CurrentStageIndex
		state.CurrentStepInStage = src.CurrentStepInStage
		state.CompletedStages = src.CompletedStages
		return nil
	})
}

// Exists reports whether a session directory with saved state exists.
func (s *Store) Exists(sessionID, projectPath string) bool {
	_, err := os.Stat(filepath.Join(s.sessionDir(sessionID, projectPath), stateFileName))
	return err == nil
}

// SessionDir returns the on-disk directory for a session.
func (s *Store) SessionDir(sessionID, projectPath string) string {
	return s.sessionDir(sessionID, projectPath)
}

// RecipePath returns the path of the recipe snapshot stored with a session.
func (s *Store) RecipePath(sessionID, projectPath string) string {
	return filepath.Join(s.sessionDir(sessionID, projectPath), recipeFileName)
}

// List enumerates sessions for a project, newest first, after cleaning up
// sessions older than the retention window.
func (s *Store) List(projectPath string) ([]Summary, error) {
	s.CleanupOldSessions(projectPath)

	projectDir := filepath.Join(s.baseDir, projectSlug(projectPath))
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, errors.Wrap(err, "listing sessions")
	}

	var summaries []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		state, err := s.Load(entry.Name(), projectPath)
		if err != nil {
			s.logger.Warn("skipping unreadable session",
				log.String(log.SessionIDKey, entry.Name()),
				log.Error(err))
			continue
		}
		summary := Summary{
			SessionID:      state.SessionID,
			RecipeName:     state.RecipeName,
			RecipeVersion:  state.RecipeVersion,
			Started:        state.Started,
			Status:         state.Status(),
			CompletedSteps: len(state.CompletedSteps),
		}
		if state.PendingApproval != nil {
			summary.PendingStage = state.PendingApproval.StageName
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Started > summaries[j].Started
	})
	return summaries, nil
}

// Delete removes a session directory and everything in it.
func (s *Store) Delete(sessionID, projectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.RemoveAll(s.sessionDir(sessionID, projectPath))
}

// CleanupOldSessions removes sessions whose state has not been touched
// within the retention window. Retention <= 0 disables cleanup.
func (s *Store) CleanupOldSessions(projectPath string) {
	if s.retentionDays <= 0 {
		return
	}

	projectDir := filepath.Join(s.baseDir, projectSlug(projectPath))
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := os.Stat(filepath.Join(projectDir, entry.Name(), stateFileName))
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(projectDir, entry.Name())); err == nil {
				s.logger.Debug("cleaned up old session",
					log.String(log.SessionIDKey, entry.Name()))
			}
		}
	}
}

// update performs a load-modify-save cycle under the store mutex.
func (s *Store) update(sessionID, projectPath string, fn func(*State) error) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.Load(sessionID, projectPath)
	if err != nil {
		return nil, err
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	if err := s.writeState(sessionID, projectPath, state); err != nil {
		return nil, err
	}
	return state, nil
}

// writeState writes state.json via temp file + rename so readers never see a
// partial document. Caller holds the mutex.
func (s *Store) writeState(sessionID, projectPath string, state *State) error {
	dir := s.sessionDir(sessionID, projectPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating session directory %s", dir)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "serializing session state")
	}

	tmp, err := os.CreateTemp(dir, stateFileName+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temp state file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "writing session state")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "closing temp state file")
	}
	if err := os.Rename(tmpName, filepath.Join(dir, stateFileName)); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "committing session state")
	}
	return nil
}

func (s *Store) sessionDir(sessionID, projectPath string) string {
	return filepath.Join(s.baseDir, projectSlug(projectPath), sessionID)
}

// projectSlug turns an absolute project path into a flat directory name.
func projectSlug(projectPath string) string {
	abs := absPath(projectPath)
	slug := strings.Trim(abs, string(filepath.Separator))
	slug = strings.ReplaceAll(slug, string(filepath.Separator), "-")
	slug = strings.ReplaceAll(slug, " ", "-")
	if slug == "" {
		slug = "root"
	}
	return slug
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

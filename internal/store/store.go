// Package store persists per-session artifacts: the raw transcript log, the
// per-turn evaluation log, and the session summary. Each artifact is
// independently readable - a viewer rendering scores never needs the raw
// transcript, and vice versa.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-call-coach-service/internal/models"
)

// Artifact file names inside a session directory.
const (
	transcriptFile  = "transcript.jsonl"
	interimsFile    = "transcript_interims.jsonl"
	evaluationsFile = "evaluations.json"
	summaryFile     = "summary.json"
	metaFile        = "meta.json"
)

// ErrSessionFinalized is returned when Finalize is called on a session whose
// summary already exists. The stored summary is left unchanged.
var ErrSessionFinalized = errors.New("session already finalized")

// Store creates per-session logs under a root directory.
type Store struct {
	root string
}

// New creates a store rooted at dir.
func New(root string) *Store {
	return &Store{root: root}
}

// Meta describes the session an artifact directory belongs to.
type Meta struct {
	SessionID string `json:"sessionId"`
	Scenario  string `json:"scenario"`
	Persona   string `json:"persona"`
	StartedAt int64  `json:"startedAt"`
}

// SessionLog is the append-only log for one session. Appends are
// crash-consistent: transcript lines are fsynced, the evaluation set is
// rewritten atomically, and the summary file is created exclusively so a
// restart cannot double-finalize.
type SessionLog struct {
	mu         sync.Mutex
	logger     zerolog.Logger
	dir        string
	transcript *os.File
	interims   *os.File
	evals      map[int]models.EvaluationRecord
	finalized  bool
}

// Create makes the session directory and opens its logs.
func (s *Store) Create(meta Meta) (*SessionLog, error) {
	dir := filepath.Join(s.root, meta.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	sl := &SessionLog{
		logger: log.With().Str("component", "store").Str("sessionId", meta.SessionID).Logger(),
		dir:    dir,
		evals:  make(map[int]models.EvaluationRecord),
	}

	if err := writeJSON(filepath.Join(dir, metaFile), meta); err != nil {
		return nil, err
	}

	var err error
	sl.transcript, err = os.OpenFile(filepath.Join(dir, transcriptFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript log: %w", err)
	}
	sl.interims, err = os.OpenFile(filepath.Join(dir, interimsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		sl.transcript.Close()
		return nil, fmt.Errorf("open interim log: %w", err)
	}

	// A summary left by a previous run marks the session terminal.
	if _, err := os.Stat(filepath.Join(dir, summaryFile)); err == nil {
		sl.finalized = true
	}
	return sl, nil
}

// Dir returns the session artifact directory.
func (l *SessionLog) Dir() string {
	return l.dir
}

// AppendTurn appends one closed turn to the transcript log. A failed write is
// retried once synchronously; a second failure is escalated to the caller,
// since losing transcript data defeats the system's purpose.
func (l *SessionLog) AppendTurn(t models.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := models.TranscriptEntry{
		TurnIndex: t.TurnIndex,
		Speaker:   t.Speaker,
		Text:      t.Text,
		Timestamp: t.CompletedAt,
	}
	return l.appendLine(l.transcript, entry)
}

// AppendInterim records a raw fragment (including non-finals) for debugging.
// Interim entries never appear in the main transcript.
func (l *SessionLog) AppendInterim(ev models.TranscriptionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := models.TranscriptEntry{
		Speaker:   ev.Speaker,
		Text:      ev.Text,
		Timestamp: ev.Timestamp,
		IsInterim: !ev.IsFinal,
	}
	return l.appendLine(l.interims, entry)
}

// AppendEvaluation files an evaluation under its turn index. Last write wins
// on retry - the record set never holds two records for one index. Arrival
// order is irrelevant; completions may come out of turn order.
func (l *SessionLog) AppendEvaluation(turnIndex int, rec models.EvaluationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec.TurnIndex = turnIndex
	l.evals[turnIndex] = rec

	if err := l.flushEvaluations(); err != nil {
		l.logger.Warn().Err(err).Int("turnIndex", turnIndex).Msg("Evaluation flush failed, retrying")
		if err = l.flushEvaluations(); err != nil {
			return fmt.Errorf("append evaluation for turn %d: %w", turnIndex, err)
		}
	}
	return nil
}

// Evaluations returns a copy of the filed records keyed by turn index.
func (l *SessionLog) Evaluations() map[int]models.EvaluationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int]models.EvaluationRecord, len(l.evals))
	for k, v := range l.evals {
		out[k] = v
	}
	return out
}

// Finalize writes the session summary exactly once. A second call returns
// ErrSessionFinalized and leaves the stored summary unchanged. After a
// successful Finalize the session is terminal; further appends are refused.
func (l *SessionLog) Finalize(summary models.SessionSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		return ErrSessionFinalized
	}

	path := filepath.Join(l.dir, summaryFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			l.finalized = true
			return ErrSessionFinalized
		}
		return fmt.Errorf("create summary: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		f.Close()
		return fmt.Errorf("write summary: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync summary: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close summary: %w", err)
	}
	l.finalized = true
	return nil
}

// Finalized reports whether the session summary has been written.
func (l *SessionLog) Finalized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalized
}

// Close closes the open log files.
func (l *SessionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if e := l.transcript.Close(); e != nil {
		err = e
	}
	if e := l.interims.Close(); e != nil {
		err = e
	}
	return err
}

// appendLine writes one JSON line and fsyncs. One synchronous retry, then
// the error escalates to the caller.
func (l *SessionLog) appendLine(f *os.File, v any) error {
	if l.finalized {
		return ErrSessionFinalized
	}
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	line = append(line, '\n')

	write := func() error {
		if _, err := f.Write(line); err != nil {
			return err
		}
		return f.Sync()
	}
	if err := write(); err != nil {
		l.logger.Warn().Err(err).Msg("Transcript append failed, retrying")
		if err = write(); err != nil {
			return fmt.Errorf("append transcript entry: %w", err)
		}
	}
	return nil
}

// flushEvaluations rewrites the evaluation log atomically, ordered by turn
// index.
func (l *SessionLog) flushEvaluations() error {
	records := make([]models.EvaluationRecord, 0, len(l.evals))
	for _, rec := range l.evals {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].TurnIndex < records[j].TurnIndex })
	return writeJSON(filepath.Join(l.dir, evaluationsFile), records)
}

// writeJSON writes v to path via temp file + rename.
func writeJSON(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

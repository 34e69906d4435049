package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/friday/pkg/models"
)

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Run is one orchestration of a task.
type Run struct {
	ID           string     `json:"id"`
	Task         string     `json:"task"`
	WorkingDir   string     `json:"working_dir"`
	Status       RunStatus  `json:"status"`
	Error        string     `json:"error,omitempty"`
	InputTokens  int64      `json:"input_tokens"`
	OutputTokens int64      `json:"output_tokens"`
	StartedAt    time.Time  `json:"started_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Run CRUD operations

// CreateRun creates a new run.
func (db *DB) CreateRun(r *Run) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.StartedAt
	}
	_, err := db.Exec(`
		INSERT INTO runs (id, task, working_dir, status, error, input_tokens, output_tokens, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Task, r.WorkingDir, string(r.Status), r.Error, r.InputTokens, r.OutputTokens,
		formatTime(r.StartedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil if the run does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, task, working_dir, status, error, input_tokens, output_tokens, started_at, updated_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// UpdateRun updates a run's status, error and token usage.
func (db *DB) UpdateRun(r *Run) error {
	r.UpdatedAt = time.Now()
	var finished any
	if r.FinishedAt != nil {
		finished = formatTime(*r.FinishedAt)
	}
	_, err := db.Exec(`
		UPDATE runs SET status = ?, error = ?, input_tokens = ?, output_tokens = ?, updated_at = ?, finished_at = ?
		WHERE id = ?
	`, string(r.Status), r.Error, r.InputTokens, r.OutputTokens, formatTime(r.UpdatedAt), finished, r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// DeleteRun deletes a run and its nodes.
func (db *DB) DeleteRun(id string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM nodes WHERE run_id = ?", id); err != nil {
			return fmt.Errorf("delete nodes: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		return nil
	})
}

// ListRuns lists runs newest first, optionally filtered by status.
func (db *DB) ListRuns(status *RunStatus) ([]Run, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = db.Query(`
			SELECT id, task, working_dir, status, error, input_tokens, output_tokens, started_at, updated_at, finished_at
			FROM runs WHERE status = ? ORDER BY started_at DESC, id
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT id, task, working_dir, status, error, input_tokens, output_tokens, started_at, updated_at, finished_at
			FROM runs ORDER BY started_at DESC, id
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var startedAt, updatedAt string
	var finishedAt sql.NullString
	if err := s.Scan(&r.ID, &r.Task, &r.WorkingDir, &r.Status, &r.Error, &r.InputTokens, &r.OutputTokens,
		&startedAt, &updatedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.StartedAt, _ = parseTime(startedAt)
	r.UpdatedAt, _ = parseTime(updatedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	return &r, nil
}

// Node snapshot operations

// SaveNodes replaces the node snapshot of a run. Nodes are stored in the
// given order so LoadNodes returns them the same way.
func (db *DB) SaveNodes(runID string, nodes []*models.TaskNode) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM nodes WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("clear nodes: %w", err)
		}
		stmt, err := tx.Prepare(`
			INSERT INTO nodes (run_id, name, seq, description, type, dependencies, status, code, invocation,
				return_value, retry_count, replan_count, score, skill_fingerprint, last_reasoning, history)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare node insert: %w", err)
		}
		defer stmt.Close()

		for i, n := range nodes {
			deps, err := json.Marshal(nonNil(n.Dependencies))
			if err != nil {
				return fmt.Errorf("marshal dependencies of %s: %w", n.Name, err)
			}
			history, err := json.Marshal(nonNilHistory(n.History))
			if err != nil {
				return fmt.Errorf("marshal history of %s: %w", n.Name, err)
			}
			if _, err := stmt.Exec(runID, n.Name, i, n.Description, string(n.Type), string(deps), string(n.Status),
				n.Code, n.Invocation, n.ReturnValue, n.RetryCount, n.ReplanCount, n.Score,
				n.SkillFingerprint, n.LastReasoning, string(history)); err != nil {
				return fmt.Errorf("insert node %s: %w", n.Name, err)
			}
		}
		return nil
	})
}

// LoadNodes returns the node snapshot of a run in stored order.
func (db *DB) LoadNodes(runID string) ([]*models.TaskNode, error) {
	rows, err := db.Query(`
		SELECT name, description, type, dependencies, status, code, invocation, return_value,
			retry_count, replan_count, score, skill_fingerprint, last_reasoning, history
		FROM nodes WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.TaskNode
	for rows.Next() {
		var n models.TaskNode
		var deps, history string
		if err := rows.Scan(&n.Name, &n.Description, &n.Type, &deps, &n.Status, &n.Code, &n.Invocation,
			&n.ReturnValue, &n.RetryCount, &n.ReplanCount, &n.Score, &n.SkillFingerprint,
			&n.LastReasoning, &history); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if err := json.Unmarshal([]byte(deps), &n.Dependencies); err != nil {
			return nil, fmt.Errorf("decode dependencies of %s: %w", n.Name, err)
		}
		if err := json.Unmarshal([]byte(history), &n.History); err != nil {
			return nil, fmt.Errorf("decode history of %s: %w", n.Name, err)
		}
		if len(n.Dependencies) == 0 {
			n.Dependencies = nil
		}
		if len(n.History) == 0 {
			n.History = nil
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

// NodeStatusCounts returns how many of a run's nodes are in each status.
func (db *DB) NodeStatusCounts(runID string) (map[models.NodeStatus]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM nodes WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.NodeStatus]int)
	for rows.Next() {
		var status models.NodeStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilHistory(h []models.AttemptRecord) []models.AttemptRecord {
	if h == nil {
		return []models.AttemptRecord{}
	}
	return h
}

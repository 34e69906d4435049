package skills

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ShayCichocki/friday/pkg/models"
)

// Store persists skill entries. Put must only replace an existing entry when
// the new score is strictly greater, and must report whether it wrote.
type Store interface {
	Get(fingerprint string) (*models.SkillEntry, error)
	Put(entry *models.SkillEntry) (bool, error)
	List(typ models.NodeType) ([]*models.SkillEntry, error)
	Close() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.SkillEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*models.SkillEntry)}
}

// Get returns the entry for fingerprint, or nil if absent.
func (m *MemoryStore) Get(fingerprint string) (*models.SkillEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// Put stores entry if absent or strictly higher scoring.
func (m *MemoryStore) Put(entry *models.SkillEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[entry.Fingerprint]; ok && existing.Score >= entry.Score {
		return false, nil
	}
	cp := *entry
	m.entries[entry.Fingerprint] = &cp
	return true, nil
}

// List returns entries of the given type sorted by name; an empty type lists all.
func (m *MemoryStore) List(typ models.NodeType) ([]*models.SkillEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.SkillEntry
	for _, e := range m.entries {
		if typ == "" || e.Type == typ {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// SQLiteStore is a Store backed by a sqlite database file, shared across runs.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the skill library at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open skill library: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS skills (
			fingerprint TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			description TEXT,
			code TEXT NOT NULL,
			invocation TEXT,
			score INT NOT NULL,
			provenance TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_skills_type ON skills(type);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the entry for fingerprint, or nil if absent.
func (s *SQLiteStore) Get(fingerprint string) (*models.SkillEntry, error) {
	row := s.db.QueryRow(`
		SELECT fingerprint, name, type, description, code, invocation, score, provenance, created_at
		FROM skills WHERE fingerprint = ?
	`, fingerprint)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get skill %s: %w", fingerprint, err)
	}
	return e, nil
}

// Put inserts entry, or replaces the stored entry when entry scores strictly higher.
func (s *SQLiteStore) Put(entry *models.SkillEntry) (bool, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	result, err := s.db.Exec(`
		INSERT INTO skills (fingerprint, name, type, description, code, invocation, score, provenance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			description = excluded.description,
			code = excluded.code,
			invocation = excluded.invocation,
			score = excluded.score,
			provenance = excluded.provenance,
			created_at = excluded.created_at
		WHERE excluded.score > skills.score
	`, entry.Fingerprint, entry.Name, string(entry.Type), entry.Description, entry.Code,
		entry.Invocation, entry.Score, entry.Provenance, entry.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("put skill %s: %w", entry.Fingerprint, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// List returns entries of the given type sorted by name; an empty type lists all.
func (s *SQLiteStore) List(typ models.NodeType) ([]*models.SkillEntry, error) {
	query := `SELECT fingerprint, name, type, description, code, invocation, score, provenance, created_at FROM skills`
	var args []any
	if typ != "" {
		query += ` WHERE type = ?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []*models.SkillEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.SkillEntry, error) {
	var e models.SkillEntry
	var typ string
	var description, invocation, provenance sql.NullString
	if err := row.Scan(&e.Fingerprint, &e.Name, &typ, &description, &e.Code,
		&invocation, &e.Score, &provenance, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = models.NodeType(typ)
	e.Description = description.String
	e.Invocation = invocation.String
	e.Provenance = provenance.String
	return &e, nil
}

// Verify stores implement Store at compile time.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

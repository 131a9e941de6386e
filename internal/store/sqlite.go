package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // registers "sqlite" (pure Go)

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

const dbSuffix = "_memory.db"

// SQLiteBackend stores each agent in its own SQLite file under basePath,
// named <agent>_memory.db. Files are opened lazily and kept open until Close.
type SQLiteBackend struct {
	mu       sync.Mutex
	basePath string
	driver   string
	dbs      map[string]*sql.DB // One DB per agent
}

// NewSQLiteBackend creates a backend rooted at basePath using driver.
func NewSQLiteBackend(basePath, driver string) (*SQLiteBackend, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	logging.Store("Initializing SQLite memory backend at path: %s (driver=%s)", basePath, driver)

	if err := os.MkdirAll(basePath, 0755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create memory directory %s: %v", basePath, err)
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}

	return &SQLiteBackend{
		basePath: basePath,
		driver:   driver,
		dbs:      make(map[string]*sql.DB),
	}, nil
}

// maxFilePrefix bounds the readable part of a memory file name.
const maxFilePrefix = 48

// fileName maps an agent ID onto a safe file name. The readable prefix is
// lossy, so a hash of the raw ID keeps distinct agents in distinct files.
func fileName(agentID string) string {
	var sb strings.Builder
	for _, r := range agentID {
		if sb.Len() >= maxFilePrefix {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	sum := sha256.Sum256([]byte(agentID))
	return sb.String() + "-" + hex.EncodeToString(sum[:6]) + dbSuffix
}

// getDB returns the database for an agent. With create unset, a missing
// file yields (nil, nil) so reads for unknown agents stay side-effect free.
func (b *SQLiteBackend) getDB(agentID string, create bool) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dbs == nil {
		return nil, fmt.Errorf("sqlite backend closed")
	}
	if db, ok := b.dbs[agentID]; ok {
		return db, nil
	}

	dbPath := filepath.Join(b.basePath, fileName(agentID))
	if !create {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, nil
		}
	}

	db, err := b.open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := initializeSchema(db, agentID); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize memory schema for %s: %v", agentID, err)
		db.Close()
		return nil, fmt.Errorf("failed to initialize memory schema: %w", err)
	}
	owner, err := readOwner(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read memory owner: %w", err)
	}
	if owner != agentID {
		logging.Get(logging.CategoryStore).Error("Memory file %s belongs to agent %q, not %q", dbPath, owner, agentID)
		db.Close()
		return nil, fmt.Errorf("memory file %s belongs to agent %q", filepath.Base(dbPath), owner)
	}

	b.dbs[agentID] = db
	logging.StoreDebug("Memory database ready for agent=%s", agentID)
	return db, nil
}

func (b *SQLiteBackend) open(dbPath string) (*sql.DB, error) {
	logging.StoreDebug("Opening memory database at %s", dbPath)

	db, err := sql.Open(b.driver, dbPath)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", dbPath, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	return db, nil
}

// initializeSchema creates the memory tables.
func initializeSchema(db *sql.DB, agentID string) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		reward REAL,
		created_at INTEGER NOT NULL,
		project_tag TEXT DEFAULT '',
		team_tag TEXT DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_reward ON episodes(reward);
	CREATE INDEX IF NOT EXISTS idx_episodes_team ON episodes(team_tag);
	CREATE TABLE IF NOT EXISTS procedures (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		definition TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		content TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec(`INSERT INTO agent_meta (key, value) VALUES ('agent_id', ?)
		ON CONFLICT(key) DO NOTHING`, agentID)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// AppendEpisode inserts ep into its agent's file.
func (b *SQLiteBackend) AppendEpisode(ctx context.Context, ep types.Episode) error {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteBackend.AppendEpisode")
	defer timer.Stop()

	db, err := b.getDB(ep.AgentID, true)
	if err != nil {
		return err
	}
	return insertEpisode(ctx, db, ep)
}

func insertEpisode(ctx context.Context, ex execer, ep types.Episode) error {
	content, err := json.Marshal(ep.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal episode content: %w", err)
	}
	var reward sql.NullFloat64
	if r, ok := ep.Reward(); ok {
		reward = sql.NullFloat64{Float64: r, Valid: true}
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO episodes (id, agent_id, kind, content, reward, created_at, project_tag, team_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ep.ID, ep.AgentID, ep.Kind, string(content), reward, ep.CreatedAt.UnixNano(), ep.ProjectTag, ep.TeamTag)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to insert episode %s: %v", ep.ID, err)
		return fmt.Errorf("failed to insert episode: %w", err)
	}
	return nil
}

// HighRewardEpisodes filters by the indexed reward column.
func (b *SQLiteBackend) HighRewardEpisodes(ctx context.Context, agentID string, minReward float64) ([]types.Episode, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteBackend.HighRewardEpisodes")
	defer timer.Stop()

	db, err := b.getDB(agentID, false)
	if err != nil || db == nil {
		return nil, err
	}
	return queryEpisodes(ctx, db, `
		SELECT id, agent_id, kind, content, created_at, project_tag, team_tag
		FROM episodes
		WHERE agent_id = ? AND reward IS NOT NULL AND reward > ?
		ORDER BY created_at, id
	`, agentID, minReward)
}

// TeamEpisodes queries every agent file for the team tag.
func (b *SQLiteBackend) TeamEpisodes(ctx context.Context, teamTag string) ([]types.Episode, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteBackend.TeamEpisodes")
	defer timer.Stop()

	agents, err := b.Agents(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.Episode
	for _, agentID := range agents {
		db, err := b.getDB(agentID, false)
		if err != nil {
			return nil, err
		}
		if db == nil {
			continue
		}
		eps, err := queryEpisodes(ctx, db, `
			SELECT id, agent_id, kind, content, created_at, project_tag, team_tag
			FROM episodes
			WHERE agent_id = ? AND team_tag = ?
			ORDER BY created_at, id
		`, agentID, teamTag)
		if err != nil {
			return nil, err
		}
		out = append(out, eps...)
	}
	return out, nil
}

func queryEpisodes(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]types.Episode, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to query episodes: %v", err)
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var out []types.Episode
	for rows.Next() {
		var ep types.Episode
		var content string
		var created int64
		if err := rows.Scan(&ep.ID, &ep.AgentID, &ep.Kind, &content, &created, &ep.ProjectTag, &ep.TeamTag); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		if err := json.Unmarshal([]byte(content), &ep.Content); err != nil {
			logging.StoreWarn("Skipping episode %s with malformed content: %v", ep.ID, err)
			continue
		}
		ep.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, ep)
	}
	return out, rows.Err()
}

// UpsertProcedures upserts in one transaction; existing rows keep their seq.
func (b *SQLiteBackend) UpsertProcedures(ctx context.Context, agentID string, procs []types.Procedure) error {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteBackend.UpsertProcedures")
	defer timer.Stop()

	return b.withTx(ctx, agentID, func(tx *sql.Tx) error {
		for _, p := range procs {
			if err := upsertRecord(ctx, tx, "procedures", "definition", p.ID, p.Definition, p.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertFacts upserts in one transaction; existing rows keep their seq.
func (b *SQLiteBackend) UpsertFacts(ctx context.Context, agentID string, facts []types.SemanticFact) error {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteBackend.UpsertFacts")
	defer timer.Stop()

	return b.withTx(ctx, agentID, func(tx *sql.Tx) error {
		for _, f := range facts {
			if err := upsertRecord(ctx, tx, "facts", "content", f.ID, f.Content, f.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertRecord writes one procedure or fact row. table and column are
// package constants, never caller input.
func upsertRecord(ctx context.Context, ex execer, table, column, id string, payload map[string]interface{}, updated time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", table, id, err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, seq, %[2]s, updated_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM %[1]s), ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			%[2]s = excluded.%[2]s,
			updated_at = excluded.updated_at
	`, table, column)
	if _, err := ex.ExecContext(ctx, query, id, string(data), updated.UnixNano()); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to upsert %s %s: %v", table, id, err)
		return fmt.Errorf("failed to upsert %s: %w", table, err)
	}
	return nil
}

// Procedures returns the agent's procedures ordered by first insertion.
func (b *SQLiteBackend) Procedures(ctx context.Context, agentID string) ([]types.Procedure, error) {
	db, err := b.getDB(agentID, false)
	if err != nil || db == nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, definition, updated_at FROM procedures ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query procedures: %w", err)
	}
	defer rows.Close()

	var out []types.Procedure
	for rows.Next() {
		var p types.Procedure
		var def string
		var updated int64
		if err := rows.Scan(&p.ID, &def, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan procedure: %w", err)
		}
		if err := json.Unmarshal([]byte(def), &p.Definition); err != nil {
			logging.StoreWarn("Skipping procedure %s with malformed definition: %v", p.ID, err)
			continue
		}
		p.AgentID = agentID
		p.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// Facts returns the agent's facts ordered by first insertion.
func (b *SQLiteBackend) Facts(ctx context.Context, agentID string) ([]types.SemanticFact, error) {
	db, err := b.getDB(agentID, false)
	if err != nil || db == nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, content, updated_at FROM facts ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()

	var out []types.SemanticFact
	for rows.Next() {
		var f types.SemanticFact
		var content string
		var updated int64
		if err := rows.Scan(&f.ID, &content, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		if err := json.Unmarshal([]byte(content), &f.Content); err != nil {
			logging.StoreWarn("Skipping fact %s with malformed content: %v", f.ID, err)
			continue
		}
		f.AgentID = agentID
		f.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// ApplyIngest writes procedure, fact and ingestion episode in one transaction.
func (b *SQLiteBackend) ApplyIngest(ctx context.Context, batch IngestBatch) error {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteBackend.ApplyIngest")
	defer timer.Stop()

	return b.withTx(ctx, batch.AgentID, func(tx *sql.Tx) error {
		p := batch.Procedure
		if err := upsertRecord(ctx, tx, "procedures", "definition", p.ID, p.Definition, p.UpdatedAt); err != nil {
			return err
		}
		f := batch.Fact
		if err := upsertRecord(ctx, tx, "facts", "content", f.ID, f.Content, f.UpdatedAt); err != nil {
			return err
		}
		return insertEpisode(ctx, tx, batch.Episode)
	})
}

func (b *SQLiteBackend) withTx(ctx context.Context, agentID string, fn func(tx *sql.Tx) error) error {
	db, err := b.getDB(agentID, true)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Agents lists agents from the files present under basePath.
func (b *SQLiteBackend) Agents(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list memory directory: %w", err)
	}

	b.mu.Lock()
	known := make(map[string]string, len(b.dbs)) // file name -> agent ID
	for id := range b.dbs {
		known[fileName(id)] = id
	}
	b.mu.Unlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), dbSuffix) {
			continue
		}
		id, ok := known[e.Name()]
		if !ok {
			id, err = b.readAgentID(ctx, filepath.Join(b.basePath, e.Name()))
			if err != nil {
				logging.StoreWarn("Skipping unreadable memory file %s: %v", e.Name(), err)
				continue
			}
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// readAgentID opens a file this process has not touched yet to learn its owner.
func (b *SQLiteBackend) readAgentID(ctx context.Context, path string) (string, error) {
	db, err := b.open(path)
	if err != nil {
		return "", err
	}
	defer db.Close()
	return readOwner(ctx, db)
}

// readOwner returns the agent ID recorded when the file was created.
func readOwner(ctx context.Context, db *sql.DB) (string, error) {
	var id string
	if err := db.QueryRowContext(ctx, `SELECT value FROM agent_meta WHERE key = 'agent_id'`).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// Close closes all database connections.
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	logging.Store("Closing SQLite memory backend (closing %d database connections)", len(b.dbs))

	var firstErr error
	for agentID, db := range b.dbs {
		logging.StoreDebug("Closing memory database for agent=%s", agentID)
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.dbs = nil
	return firstErr
}

// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent/work/listener persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Serialize access through one connection. The drain transaction's
	// select-then-mark is atomic because no other connection can interleave.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id             TEXT PRIMARY KEY,
			hostname       TEXT NOT NULL DEFAULT '',
			username       TEXT NOT NULL DEFAULT '',
			os             TEXT NOT NULL DEFAULT '',
			arch           TEXT NOT NULL DEFAULT '',
			pid            INTEGER NOT NULL DEFAULT 0,
			system_info    TEXT,
			sleep_interval INTEGER NOT NULL DEFAULT 60,
			jitter_percent INTEGER NOT NULL DEFAULT 0,
			first_seen     TEXT NOT NULL,
			last_seen      TEXT NOT NULL,
			killed         INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_agents_last_seen ON agents(last_seen);

		CREATE TABLE IF NOT EXISTS work_items (
			id           TEXT PRIMARY KEY,
			seq          INTEGER NOT NULL DEFAULT 0,
			agent_id     TEXT NOT NULL REFERENCES agents(id),
			verb         TEXT NOT NULL,
			args_json    TEXT NOT NULL DEFAULT '{}',
			status       TEXT NOT NULL DEFAULT 'pending',
			created_at   TEXT NOT NULL,
			sent_at      TEXT,
			completed_at TEXT,

			CHECK (status IN ('pending', 'sent', 'completed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_work_items_agent_status
			ON work_items(agent_id, status);
		CREATE INDEX IF NOT EXISTS idx_work_items_agent_seq
			ON work_items(agent_id, seq);

		CREATE TABLE IF NOT EXISTS work_results (
			id           TEXT PRIMARY KEY,
			work_item_id TEXT NOT NULL REFERENCES work_items(id),
			agent_id     TEXT NOT NULL,
			output       TEXT NOT NULL DEFAULT '',
			success      INTEGER NOT NULL DEFAULT 1,
			received_at  TEXT NOT NULL,

			UNIQUE(work_item_id)
		);

		CREATE INDEX IF NOT EXISTS idx_work_results_agent ON work_results(agent_id);

		CREATE TABLE IF NOT EXISTS listeners (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			protocol   TEXT NOT NULL,
			host       TEXT NOT NULL,
			port       INTEGER NOT NULL,
			status     TEXT NOT NULL DEFAULT 'stopped',
			created_at TEXT NOT NULL,
			started_at TEXT,
			stopped_at TEXT,

			CHECK (protocol IN ('http', 'https')),
			CHECK (status IN ('stopped', 'running', 'error'))
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// CreateAgent inserts a new agent record.
// Returns ErrDuplicateAgent if the id is already present.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	query := `
		INSERT INTO agents (id, hostname, username, os, arch, pid, system_info,
			sleep_interval, jitter_percent, first_seen, last_seen, killed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Hostname,
		agent.Username,
		agent.OS,
		agent.Arch,
		agent.PID,
		nullableBlob(agent.SystemInfo),
		agent.SleepInterval,
		agent.JitterPercent,
		formatTime(agent.FirstSeen),
		formatTime(agent.LastSeen),
		boolToInt(agent.Killed),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAgent
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "id", agent.ID, "hostname", agent.Hostname)
	return nil
}

// GetAgent retrieves an agent by id. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	query := `
		SELECT id, hostname, username, os, arch, pid, system_info,
			sleep_interval, jitter_percent, first_seen, last_seen, killed
		FROM agents
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)
	agent, err := scanAgent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// UpdateAgentCheckin sets last_seen and the agent-reported beacon timing for
// an existing agent. Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) UpdateAgentCheckin(ctx context.Context, id string, lastSeen time.Time, sleepInterval, jitterPercent int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_seen = ?, sleep_interval = ?, jitter_percent = ? WHERE id = ?`,
		formatTime(lastSeen), sleepInterval, jitterPercent, id,
	)
	if err != nil {
		return fmt.Errorf("updating agent checkin: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAgentSystemInfo refreshes the snapshot columns for an existing agent.
func (s *SQLiteStore) UpdateAgentSystemInfo(ctx context.Context, agent *Agent) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET hostname = ?, username = ?, os = ?, arch = ?, pid = ?, system_info = ?
		WHERE id = ?`,
		agent.Hostname,
		agent.Username,
		agent.OS,
		agent.Arch,
		agent.PID,
		nullableBlob(agent.SystemInfo),
		agent.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent system info: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgents returns all agents ordered by most recent check-in.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	query := `
		SELECT id, hostname, username, os, arch, pid, system_info,
			sleep_interval, jitter_percent, first_seen, last_seen, killed
		FROM agents
		ORDER BY last_seen DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// MarkAgentKilled sets the killed marker. Agents are never hard-deleted.
func (s *SQLiteStore) MarkAgentKilled(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET killed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking agent killed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Info("marked agent killed", "agent_id", id)
	return nil
}

func scanAgent(scan func(dest ...any) error) (*Agent, error) {
	var agent Agent
	var systemInfo sql.NullString
	var firstSeenStr, lastSeenStr string
	var killed int

	err := scan(
		&agent.ID,
		&agent.Hostname,
		&agent.Username,
		&agent.OS,
		&agent.Arch,
		&agent.PID,
		&systemInfo,
		&agent.SleepInterval,
		&agent.JitterPercent,
		&firstSeenStr,
		&lastSeenStr,
		&killed,
	)
	if err != nil {
		return nil, err
	}

	if systemInfo.Valid {
		agent.SystemInfo = []byte(systemInfo.String)
	}
	agent.Killed = killed != 0

	if agent.FirstSeen, err = parseTime(firstSeenStr); err != nil {
		return nil, err
	}
	if agent.LastSeen, err = parseTime(lastSeenStr); err != nil {
		return nil, err
	}
	return &agent, nil
}

// CreateWorkItem appends a pending work item for an agent. The seq column is
// assigned monotonically per agent so same-timestamp items keep creation order.
func (s *SQLiteStore) CreateWorkItem(ctx context.Context, item *WorkItem) error {
	argsJSON, err := json.Marshal(item.Args)
	if err != nil {
		return fmt.Errorf("encoding work item args: %w", err)
	}

	query := `
		INSERT INTO work_items (id, seq, agent_id, verb, args_json, status, created_at)
		VALUES (?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM work_items WHERE agent_id = ?),
			?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		item.ID,
		item.AgentID,
		item.AgentID,
		item.Verb,
		string(argsJSON),
		item.Status,
		formatTime(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting work item: %w", err)
	}

	s.logger.Debug("created work item",
		"id", item.ID, "agent_id", item.AgentID, "verb", item.Verb)
	return nil
}

// GetWorkItem retrieves a work item by id. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetWorkItem(ctx context.Context, id string) (*WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, verb, args_json, status, created_at, sent_at, completed_at
		FROM work_items WHERE id = ?`, id)

	item, err := scanWorkItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying work item: %w", err)
	}
	return item, nil
}

// ListWorkItems returns work items matching the filter in creation order.
func (s *SQLiteStore) ListWorkItems(ctx context.Context, filter WorkItemFilter) ([]*WorkItem, error) {
	query := `
		SELECT id, agent_id, verb, args_json, status, created_at, sent_at, completed_at
		FROM work_items
	`
	var conds []string
	var args []any
	if filter.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY agent_id, seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying work items: %w", err)
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning work item row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating work item rows: %w", err)
	}
	return items, nil
}

// DrainPendingWorkItems atomically dequeues all pending items for the agent.
// The select and the pending→sent transition run in one immediate transaction,
// so a concurrent drain or enqueue for the same agent either sees an item or
// it doesn't; no item is ever returned by two drains.
func (s *SQLiteStore) DrainPendingWorkItems(ctx context.Context, agentID string, now time.Time) ([]*WorkItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning drain transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, agent_id, verb, args_json, status, created_at, sent_at, completed_at
		FROM work_items
		WHERE agent_id = ? AND status = 'pending'
		ORDER BY seq`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying pending work items: %w", err)
	}

	var items []*WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning pending work item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating pending work items: %w", err)
	}
	rows.Close()

	if len(items) == 0 {
		return nil, tx.Commit()
	}

	sentAt := now.UTC()
	sentAtStr := formatTime(sentAt)
	for _, item := range items {
		result, err := tx.ExecContext(ctx, `
			UPDATE work_items SET status = 'sent', sent_at = ?
			WHERE id = ? AND status = 'pending'`,
			sentAtStr, item.ID)
		if err != nil {
			return nil, fmt.Errorf("marking work item sent: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("getting rows affected: %w", err)
		}
		if affected == 0 {
			return nil, fmt.Errorf("work item %s changed state mid-drain", item.ID)
		}
		item.Status = WorkStatusSent
		t := sentAt
		item.SentAt = &t
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing drain transaction: %w", err)
	}

	s.logger.Debug("drained work items", "agent_id", agentID, "count", len(items))
	return items, nil
}

// StoreWorkResult records a result and transitions the matching item to its
// terminal state. Results for unknown or already-terminal items are accepted
// idempotently: applied is false and the stored state is unchanged.
func (s *SQLiteStore) StoreWorkResult(ctx context.Context, result *WorkResult) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning result transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM work_items WHERE id = ?`, result.WorkItemID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying work item status: %w", err)
	}

	if status == WorkStatusCompleted || status == WorkStatusFailed {
		return false, nil
	}

	terminal := WorkStatusCompleted
	if !result.Success {
		terminal = WorkStatusFailed
	}

	receivedAtStr := formatTime(result.ReceivedAt)
	if _, err := tx.ExecContext(ctx, `
		UPDATE work_items SET status = ?, completed_at = ? WHERE id = ?`,
		terminal, receivedAtStr, result.WorkItemID); err != nil {
		return false, fmt.Errorf("transitioning work item: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO work_results (id, work_item_id, agent_id, output, success, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.WorkItemID,
		result.AgentID,
		result.Output,
		boolToInt(result.Success),
		receivedAtStr,
	); err != nil {
		return false, fmt.Errorf("inserting work result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing result transaction: %w", err)
	}

	s.logger.Debug("stored work result",
		"work_item_id", result.WorkItemID, "success", result.Success)
	return true, nil
}

// ListWorkResults returns the most recent results for an agent, newest first.
// If limit is 0 or negative, a default of 100 is used.
func (s *SQLiteStore) ListWorkResults(ctx context.Context, agentID string, limit int) ([]*WorkResult, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_item_id, agent_id, output, success, received_at
		FROM work_results
		WHERE agent_id = ?
		ORDER BY received_at DESC
		LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying work results: %w", err)
	}
	defer rows.Close()

	var results []*WorkResult
	for rows.Next() {
		r, err := scanWorkResult(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning work result row: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating work result rows: %w", err)
	}
	return results, nil
}

// GetWorkResultByItem returns the result for a work item, or ErrNotFound.
func (s *SQLiteStore) GetWorkResultByItem(ctx context.Context, workItemID string) (*WorkResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, work_item_id, agent_id, output, success, received_at
		FROM work_results WHERE work_item_id = ?`, workItemID)

	r, err := scanWorkResult(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying work result: %w", err)
	}
	return r, nil
}

// SaveListener upserts a listener record.
func (s *SQLiteStore) SaveListener(ctx context.Context, l *Listener) error {
	query := `
		INSERT INTO listeners (id, name, protocol, host, port, status, created_at, started_at, stopped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			protocol = excluded.protocol,
			host = excluded.host,
			port = excluded.port,
			status = excluded.status,
			started_at = excluded.started_at,
			stopped_at = excluded.stopped_at
	`
	_, err := s.db.ExecContext(ctx, query,
		l.ID,
		l.Name,
		l.Protocol,
		l.Host,
		l.Port,
		l.Status,
		formatTime(l.CreatedAt),
		nullableTime(l.StartedAt),
		nullableTime(l.StoppedAt),
	)
	if err != nil {
		return fmt.Errorf("saving listener: %w", err)
	}
	return nil
}

// UpdateListenerStatus transitions a listener's status, stamping started_at
// or stopped_at as appropriate.
func (s *SQLiteStore) UpdateListenerStatus(ctx context.Context, id, status string, at time.Time) error {
	var query string
	switch status {
	case ListenerStatusRunning:
		query = `UPDATE listeners SET status = ?, started_at = ? WHERE id = ?`
	case ListenerStatusStopped:
		query = `UPDATE listeners SET status = ?, stopped_at = ? WHERE id = ?`
	default:
		query = `UPDATE listeners SET status = ?, stopped_at = ? WHERE id = ?`
	}

	result, err := s.db.ExecContext(ctx, query, status, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating listener status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListListeners returns all listener records.
func (s *SQLiteStore) ListListeners(ctx context.Context) ([]*Listener, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, protocol, host, port, status, created_at, started_at, stopped_at
		FROM listeners
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying listeners: %w", err)
	}
	defer rows.Close()

	var listeners []*Listener
	for rows.Next() {
		var l Listener
		var createdAtStr string
		var startedAtStr, stoppedAtStr sql.NullString

		if err := rows.Scan(
			&l.ID,
			&l.Name,
			&l.Protocol,
			&l.Host,
			&l.Port,
			&l.Status,
			&createdAtStr,
			&startedAtStr,
			&stoppedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning listener row: %w", err)
		}

		if l.CreatedAt, err = parseTime(createdAtStr); err != nil {
			return nil, err
		}
		if l.StartedAt, err = parseNullTime(startedAtStr); err != nil {
			return nil, err
		}
		if l.StoppedAt, err = parseNullTime(stoppedAtStr); err != nil {
			return nil, err
		}
		listeners = append(listeners, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating listener rows: %w", err)
	}
	return listeners, nil
}

func scanWorkItem(scan func(dest ...any) error) (*WorkItem, error) {
	var item WorkItem
	var argsJSON, createdAtStr string
	var sentAtStr, completedAtStr sql.NullString

	err := scan(
		&item.ID,
		&item.AgentID,
		&item.Verb,
		&argsJSON,
		&item.Status,
		&createdAtStr,
		&sentAtStr,
		&completedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(argsJSON), &item.Args); err != nil {
		return nil, fmt.Errorf("decoding work item args: %w", err)
	}

	if item.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, err
	}
	if item.SentAt, err = parseNullTime(sentAtStr); err != nil {
		return nil, err
	}
	if item.CompletedAt, err = parseNullTime(completedAtStr); err != nil {
		return nil, err
	}
	return &item, nil
}

func scanWorkResult(scan func(dest ...any) error) (*WorkResult, error) {
	var r WorkResult
	var success int
	var receivedAtStr string

	err := scan(
		&r.ID,
		&r.WorkItemID,
		&r.AgentID,
		&r.Output,
		&success,
		&receivedAtStr,
	)
	if err != nil {
		return nil, err
	}

	r.Success = success != 0
	if r.ReceivedAt, err = parseTime(receivedAtStr); err != nil {
		return nil, err
	}
	return &r, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

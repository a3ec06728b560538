package decisionlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradeagent/internal/market"
	"tradeagent/internal/pipeline/agents"

	_ "modernc.org/sqlite"
)

// Record 是一条 LLM 决策日志。
type Record struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Symbol       string    `json:"symbol"`
	ProviderID   string    `json:"provider_id"`
	SystemPrompt string    `json:"system_prompt"`
	UserPrompt   string    `json:"user_prompt"`
	RawOutput    string    `json:"raw_output"`
	Action       string    `json:"action"`
	Valid        bool      `json:"valid"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store 只追加地保存模型输入输出，供事后排查。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

var _ agents.DecisionRecorder = (*Store)(nil)

// Open 打开（必要时创建）日志库。
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log: path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("decision log: create dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string { return s.path }

// Close 关闭底层 DB。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS llm_decision_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			symbol TEXT NOT NULL,
			provider_id TEXT,
			system_prompt TEXT,
			user_prompt TEXT,
			raw_output TEXT,
			action TEXT,
			valid INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_llm_logs_symbol ON llm_decision_logs(symbol);`,
		`CREATE INDEX IF NOT EXISTS idx_llm_logs_created ON llm_decision_logs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert 写入一条记录并返回自增 ID。
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("decision log: store closed")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	symbol := market.NormalizeSymbol(rec.Symbol)
	if symbol == "" {
		return 0, fmt.Errorf("decision log: symbol is required")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO llm_decision_logs
		(run_id, symbol, provider_id, system_prompt, user_prompt, raw_output, action, valid, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, symbol, rec.ProviderID, rec.SystemPrompt, rec.UserPrompt, rec.RawOutput,
		rec.Action, boolToInt(rec.Valid), rec.Error, created.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("decision log: insert: %w", err)
	}
	return res.LastInsertId()
}

// List 按时间倒序读取；symbol 为空时不过滤。
func (s *Store) List(ctx context.Context, symbol string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("decision log: store closed")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, run_id, symbol, provider_id, system_prompt, user_prompt, raw_output, action, valid, error, created_at
		FROM llm_decision_logs`
	args := []any{}
	if sym := market.NormalizeSymbol(symbol); sym != "" {
		query += ` WHERE symbol = ?`
		args = append(args, sym)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("decision log: query: %w", err)
	}
	defer rows.Close()
	out := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec       Record
			runID     sql.NullString
			provider  sql.NullString
			system    sql.NullString
			user      sql.NullString
			raw       sql.NullString
			action    sql.NullString
			errText   sql.NullString
			valid     int
			createdMs int64
		)
		if err := rows.Scan(&rec.ID, &runID, &rec.Symbol, &provider, &system, &user, &raw, &action, &valid, &errText, &createdMs); err != nil {
			return nil, err
		}
		rec.RunID = runID.String
		rec.ProviderID = provider.String
		rec.SystemPrompt = system.String
		rec.UserPrompt = user.String
		rec.RawOutput = raw.String
		rec.Action = action.String
		rec.Error = errText.String
		rec.Valid = valid != 0
		rec.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordDecision 把决策步骤的调用记录写入日志。
func (s *Store) RecordDecision(ctx context.Context, rec agents.DecisionRecord) error {
	_, err := s.Insert(ctx, Record{
		RunID:        rec.RunID,
		Symbol:       rec.Symbol,
		ProviderID:   rec.Provider,
		SystemPrompt: rec.SystemPrompt,
		UserPrompt:   rec.UserPrompt,
		RawOutput:    rec.RawOutput,
		Action:       rec.Action,
		Valid:        rec.Valid,
		Error:        rec.Error,
		CreatedAt:    rec.CreatedAt,
	})
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

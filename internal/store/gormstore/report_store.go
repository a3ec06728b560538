package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradeagent/internal/market"
	"tradeagent/internal/pipeline"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound 表示指定 run 的报告不存在。
var ErrNotFound = errors.New("report not found")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// StoredReport 是持久化后的报告视图，步骤结果保持原始 JSON。
type StoredReport struct {
	RunID        string                   `json:"run_id"`
	Subject      string                   `json:"subject"`
	Success      bool                     `json:"success"`
	DataOrigin   market.Origin            `json:"data_origin,omitempty"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   time.Time                `json:"finished_at"`
	TotalElapsed time.Duration            `json:"total_elapsed_ns"`
	Warnings     []string                 `json:"warnings"`
	Errors       []string                 `json:"errors"`
	Results      json.RawMessage          `json:"results"`
	StepTimings  map[string]time.Duration `json:"step_timings_ns"`
}

type ReportQuery struct {
	Symbol string
	Limit  int
	Offset int
}

// ReportStore 基于 Gorm + SQLite 保存运行报告历史。
type ReportStore struct {
	db *gorm.DB
}

// NewReportStore 打开数据库并完成迁移。
func NewReportStore(path string) (*ReportStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("report store: path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&reportModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ReportStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *ReportStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save 写入报告；同一 run 重复保存时覆盖。没有 RunID 的失败报告会分配一个。
func (s *ReportStore) Save(ctx context.Context, report *pipeline.RunReport) error {
	if report == nil {
		return fmt.Errorf("report store: nil report")
	}
	row, err := toModel(report)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// List 按开始时间倒序返回报告。
func (s *ReportStore) List(ctx context.Context, q ReportQuery) ([]StoredReport, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	tx := s.db.WithContext(ctx).Model(&reportModel{})
	if sym := market.NormalizeSymbol(q.Symbol); sym != "" {
		tx = tx.Where("symbol = ?", sym)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	var rows []reportModel
	if err := tx.Order("started_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]StoredReport, 0, len(rows))
	for _, row := range rows {
		rep, err := fromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

// Get 读取单个 run 的报告，不存在时返回 ErrNotFound。
func (s *ReportStore) Get(ctx context.Context, runID string) (StoredReport, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return StoredReport{}, ErrNotFound
	}
	var row reportModel
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StoredReport{}, ErrNotFound
	}
	if err != nil {
		return StoredReport{}, err
	}
	return fromModel(row)
}

func toModel(r *pipeline.RunReport) (reportModel, error) {
	runID := strings.TrimSpace(r.RunID)
	if runID == "" {
		runID = fmt.Sprintf("failed-%s-%d", market.NormalizeSymbol(r.Subject), time.Now().UnixNano())
		r.RunID = runID
	}
	results, err := pipeline.MarshalResults(r.Results)
	if err != nil {
		return reportModel{}, fmt.Errorf("report store: encode results: %w", err)
	}
	warnings, err := json.Marshal(nonNil(r.Warnings))
	if err != nil {
		return reportModel{}, err
	}
	errs, err := json.Marshal(nonNil(r.Errors))
	if err != nil {
		return reportModel{}, err
	}
	timings, err := json.Marshal(r.StepTimings)
	if err != nil {
		return reportModel{}, err
	}
	return reportModel{
		RunID:       runID,
		Symbol:      market.NormalizeSymbol(r.Subject),
		Success:     r.Success,
		DataOrigin:  string(r.DataOrigin),
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		ElapsedMs:   r.TotalElapsed.Milliseconds(),
		Warnings:    datatypes.JSON(warnings),
		Errors:      datatypes.JSON(errs),
		Results:     datatypes.JSON(results),
		StepTimings: datatypes.JSON(timings),
		CreatedAt:   time.Now(),
	}, nil
}

func fromModel(row reportModel) (StoredReport, error) {
	rep := StoredReport{
		RunID:        row.RunID,
		Subject:      row.Symbol,
		Success:      row.Success,
		DataOrigin:   market.Origin(row.DataOrigin),
		StartedAt:    row.StartedAt,
		FinishedAt:   row.FinishedAt,
		TotalElapsed: time.Duration(row.ElapsedMs) * time.Millisecond,
		Warnings:     []string{},
		Errors:       []string{},
		Results:      json.RawMessage(row.Results),
		StepTimings:  map[string]time.Duration{},
	}
	if len(rep.Results) == 0 {
		rep.Results = json.RawMessage("[]")
	}
	if err := decodeJSON(row.Warnings, &rep.Warnings); err != nil {
		return StoredReport{}, err
	}
	if err := decodeJSON(row.Errors, &rep.Errors); err != nil {
		return StoredReport{}, err
	}
	if err := decodeJSON(row.StepTimings, &rep.StepTimings); err != nil {
		return StoredReport{}, err
	}
	return rep, nil
}

func decodeJSON(raw datatypes.JSON, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("report store: decode: %w", err)
	}
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

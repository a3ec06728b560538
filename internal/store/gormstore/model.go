package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

type reportModel struct {
	ID          int64          `gorm:"column:id;primaryKey"`
	RunID       string         `gorm:"column:run_id;uniqueIndex"`
	Symbol      string         `gorm:"column:symbol;index"`
	Success     bool           `gorm:"column:success"`
	DataOrigin  string         `gorm:"column:data_origin"`
	StartedAt   time.Time      `gorm:"column:started_at;index"`
	FinishedAt  time.Time      `gorm:"column:finished_at"`
	ElapsedMs   int64          `gorm:"column:elapsed_ms"`
	Warnings    datatypes.JSON `gorm:"column:warnings"`
	Errors      datatypes.JSON `gorm:"column:errors"`
	Results     datatypes.JSON `gorm:"column:results"`
	StepTimings datatypes.JSON `gorm:"column:step_timings"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (reportModel) TableName() string { return "run_reports" }

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradeagent/internal/logger"

	"golang.org/x/sync/errgroup"
)

// Runner 执行单个 subject 的流水线。
type Runner interface {
	Run(ctx context.Context, subject string) (*RunReport, error)
}

// Batch 并发地对多个 subject 各自运行一次流水线，单个失败不影响其它。
type Batch struct {
	runner         Runner
	maxConcurrency int
	log            logger.Scoped
}

// NewBatch 创建批量协调器；maxConcurrency <= 0 表示不限并发。
func NewBatch(runner Runner, maxConcurrency int) *Batch {
	return &Batch{runner: runner, maxConcurrency: maxConcurrency, log: logger.Component("batch")}
}

// RunMany 返回每个请求 subject 对应的报告。
// 仅在输入为空时返回错误；单个 subject 的中止或 panic 都转成失败报告。
func (b *Batch) RunMany(ctx context.Context, subjects []string) (map[string]*RunReport, error) {
	if len(subjects) == 0 {
		return nil, newOrchestrationError(ReasonInvalidInput, "", "", errors.New("batch requires at least one subject"))
	}
	if b.runner == nil {
		return nil, newOrchestrationError(ReasonInvalidInput, "", "", errors.New("batch runner is not configured"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	unique := make([]string, 0, len(subjects))
	seen := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		unique = append(unique, s)
	}

	start := time.Now()
	var (
		mu      sync.Mutex
		reports = make(map[string]*RunReport, len(unique))
	)
	var g errgroup.Group
	if b.maxConcurrency > 0 {
		g.SetLimit(b.maxConcurrency)
	}
	for _, subject := range unique {
		g.Go(func() error {
			report := b.runOne(ctx, subject)
			mu.Lock()
			reports[subject] = report
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range reports {
		if !r.Success {
			failed++
		}
	}
	b.log.Infof("batch of %d finished in %s, failed=%d", len(unique), time.Since(start), failed)
	return reports, nil
}

// runOne 不记录运行指标：指标由 Runner 负责，Orchestrator.Run 自身不会让 panic 逃出。
func (b *Batch) runOne(ctx context.Context, subject string) (report *RunReport) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("run %s crashed: %v", subject, r)
			report = FailedReport(subject, fmt.Errorf("run crashed: %v", r))
		}
	}()
	rep, err := b.runner.Run(ctx, subject)
	if err != nil {
		b.log.Warnf("run %s failed: %v", subject, err)
		return FailedReport(subject, err)
	}
	if rep == nil {
		return FailedReport(subject, errors.New("run returned no report"))
	}
	return rep
}

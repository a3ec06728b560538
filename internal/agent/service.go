package agent

import (
	"context"
	"sort"

	"tradeagent/internal/logger"
	"tradeagent/internal/market"
	"tradeagent/internal/pipeline"
)

// Analyzer 执行单个 subject 的流水线。
type Analyzer interface {
	Run(ctx context.Context, subject string) (*pipeline.RunReport, error)
}

// BatchRunner 并发执行多个 subject。
type BatchRunner interface {
	RunMany(ctx context.Context, subjects []string) (map[string]*pipeline.RunReport, error)
}

// ReportSaver 持久化运行报告，可选。
type ReportSaver interface {
	Save(ctx context.Context, report *pipeline.RunReport) error
}

// Service 组合编排器、批量协调器与报告存储，供 HTTP 与 CLI 共用。
type Service struct {
	analyzer Analyzer
	batch    BatchRunner
	reports  ReportSaver
	log      logger.Scoped
}

func NewService(analyzer Analyzer, batch BatchRunner, reports ReportSaver) *Service {
	return &Service{
		analyzer: analyzer,
		batch:    batch,
		reports:  reports,
		log:      logger.Component("agent"),
	}
}

// Analyze 运行单个 symbol；成功的报告会被持久化，中止时只返回错误。
func (s *Service) Analyze(ctx context.Context, symbol string) (*pipeline.RunReport, error) {
	symbol = market.NormalizeSymbol(symbol)
	report, err := s.analyzer.Run(ctx, symbol)
	if err != nil {
		reason, _ := pipeline.ReasonOf(err)
		s.log.Warnf("%s aborted (%s): %v", symbol, reason, err)
		return nil, err
	}
	s.log.Infof("%s finished success=%t results=%d warnings=%d errors=%d elapsed=%s",
		symbol, report.Success, len(report.Results), len(report.Warnings), len(report.Errors), report.TotalElapsed)
	s.persist(ctx, report)
	return report, nil
}

// AnalyzeMany 批量运行；每个 subject 的报告（包括失败报告）都会被持久化。
func (s *Service) AnalyzeMany(ctx context.Context, symbols []string) (map[string]*pipeline.RunReport, error) {
	normalized := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		normalized = append(normalized, market.NormalizeSymbol(sym))
	}
	reports, err := s.batch.RunMany(ctx, normalized)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(reports))
	for k := range reports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.persist(ctx, reports[k])
	}
	return reports, nil
}

func (s *Service) persist(ctx context.Context, report *pipeline.RunReport) {
	if s.reports == nil || report == nil {
		return
	}
	if err := s.reports.Save(ctx, report); err != nil {
		s.log.Warnf("save report %s (%s) failed: %v", report.RunID, report.Subject, err)
	}
}

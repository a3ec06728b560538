package livehttp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"tradeagent/internal/analysis/visual"
	"tradeagent/internal/market"
	"tradeagent/internal/metrics"
	"tradeagent/internal/pipeline"
	"tradeagent/internal/store/decisionlog"
	"tradeagent/internal/store/gormstore"

	"github.com/gin-gonic/gin"
)

// Analysis 由 agent.Service 实现。
type Analysis interface {
	Analyze(ctx context.Context, symbol string) (*pipeline.RunReport, error)
	AnalyzeMany(ctx context.Context, symbols []string) (map[string]*pipeline.RunReport, error)
}

type ReportReader interface {
	List(ctx context.Context, q gormstore.ReportQuery) ([]gormstore.StoredReport, error)
	Get(ctx context.Context, runID string) (gormstore.StoredReport, error)
}

type DecisionLister interface {
	List(ctx context.Context, symbol string, limit int) ([]decisionlog.Record, error)
}

type StatsProvider interface {
	Snapshot() metrics.Snapshot
	Reset()
}

// GateController 由 market.Gate 实现。
type GateController interface {
	Stats() market.GateStats
	Reset()
	Fallback(symbol string) (market.Snapshot, bool)
}

// ServerConfig 描述 HTTP 服务依赖；除 Analysis 外都可为空，对应接口返回 503。
type ServerConfig struct {
	Addr           string
	Analysis       Analysis
	Reports        ReportReader
	Decisions      DecisionLister
	Stats          StatsProvider
	Gate           GateController
	MetricsHandler http.Handler
	ChartInterval  string
	ChartOptions   visual.ChartOptions
}

type Router struct {
	cfg ServerConfig
}

func NewRouter(cfg ServerConfig) *Router {
	if strings.TrimSpace(cfg.ChartInterval) == "" {
		cfg.ChartInterval = "1h"
	}
	return &Router{cfg: cfg}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/analyze/:symbol", r.handleAnalyze)
	group.POST("/analyze", r.handleAnalyzeMany)
	group.GET("/reports", r.handleReports)
	group.GET("/reports/:id", r.handleReportByID)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/stats", r.handleStats)
	group.POST("/stats/reset", r.handleStatsReset)
	group.GET("/gate", r.handleGate)
	group.POST("/gate/reset", r.handleGateReset)
	group.GET("/chart/:symbol", r.handleChart)
}

type analyzeManyRequest struct {
	Symbols []string `json:"symbols"`
}

func (r *Router) handleAnalyze(c *gin.Context) {
	report, err := r.cfg.Analysis.Analyze(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeRunError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (r *Router) handleAnalyzeMany(c *gin.Context) {
	var req analyzeManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	reports, err := r.cfg.Analysis.AnalyzeMany(c.Request.Context(), req.Symbols)
	if err != nil {
		writeRunError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (r *Router) handleReports(c *gin.Context) {
	if r.cfg.Reports == nil {
		unavailable(c, "report store")
		return
	}
	q := gormstore.ReportQuery{
		Symbol: c.Query("symbol"),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	items, err := r.cfg.Reports.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": items, "count": len(items)})
}

func (r *Router) handleReportByID(c *gin.Context) {
	if r.cfg.Reports == nil {
		unavailable(c, "report store")
		return
	}
	rep, err := r.cfg.Reports.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, gormstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.cfg.Decisions == nil {
		unavailable(c, "decision log")
		return
	}
	items, err := r.cfg.Decisions.List(c.Request.Context(), c.Query("symbol"), queryInt(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": items, "count": len(items)})
}

func (r *Router) handleStats(c *gin.Context) {
	if r.cfg.Stats == nil {
		unavailable(c, "metrics")
		return
	}
	c.JSON(http.StatusOK, r.cfg.Stats.Snapshot())
}

func (r *Router) handleStatsReset(c *gin.Context) {
	if r.cfg.Stats == nil {
		unavailable(c, "metrics")
		return
	}
	r.cfg.Stats.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (r *Router) handleGate(c *gin.Context) {
	if r.cfg.Gate == nil {
		unavailable(c, "gate")
		return
	}
	c.JSON(http.StatusOK, r.cfg.Gate.Stats())
}

func (r *Router) handleGateReset(c *gin.Context) {
	if r.cfg.Gate == nil {
		unavailable(c, "gate")
		return
	}
	r.cfg.Gate.Reset()
	c.JSON(http.StatusOK, r.cfg.Gate.Stats())
}

func (r *Router) handleChart(c *gin.Context) {
	if r.cfg.Gate == nil {
		unavailable(c, "gate")
		return
	}
	symbol := market.NormalizeSymbol(c.Param("symbol"))
	snap, ok := r.cfg.Gate.Fallback(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cached data for " + symbol})
		return
	}
	interval := strings.TrimSpace(c.DefaultQuery("interval", r.cfg.ChartInterval))
	var buf bytes.Buffer
	if err := visual.RenderKline(&buf, snap, interval, r.cfg.ChartOptions); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, visual.ErrNoCandles) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// statusForRun 把中止原因映射为 HTTP 状态码。
func statusForRun(err error) int {
	reason, ok := pipeline.ReasonOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch reason {
	case pipeline.ReasonInvalidInput:
		return http.StatusBadRequest
	case pipeline.ReasonDataUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeRunError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if reason, ok := pipeline.ReasonOf(err); ok {
		body["reason"] = reason
	}
	c.JSON(statusForRun(err), body)
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not enabled"})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

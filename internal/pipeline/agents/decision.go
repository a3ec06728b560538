package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradeagent/internal/gateway/provider"
	"tradeagent/internal/logger"
	"tradeagent/internal/pipeline"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const DecisionID = "decision"

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

const (
	SourceLLM   = "llm"
	SourceRules = "rules"
)

const decisionSchema = `{
  "type": "object",
  "required": ["action", "confidence", "rationale"],
  "properties": {
    "action": {"enum": ["buy", "sell", "hold"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "rationale": {"type": "string", "minLength": 1}
  }
}`

const decisionSystemPrompt = `You are a crypto futures trading assistant.
Given technical and risk analysis for one symbol, reply with a single JSON object:
{"action":"buy|sell|hold","confidence":0..1,"rationale":"short reason"}.
Do not add any text outside the JSON object.`

// DecisionRecord 记录一次 LLM 决策的输入与输出。
type DecisionRecord struct {
	RunID        string
	Symbol       string
	Provider     string
	SystemPrompt string
	UserPrompt   string
	RawOutput    string
	Action       string
	Valid        bool
	Error        string
	CreatedAt    time.Time
}

// DecisionRecorder 持久化 LLM 调用记录，失败不影响决策。
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, rec DecisionRecord) error
}

type DecisionConfig struct {
	ID            string
	Priority      int
	TechnicalStep string
	RiskStep      string
	MaxTokens     int
}

func (c DecisionConfig) withDefaults() DecisionConfig {
	c.ID = nameOrDefault(c.ID, DecisionID)
	c.TechnicalStep = nameOrDefault(c.TechnicalStep, TechnicalID)
	c.RiskStep = nameOrDefault(c.RiskStep, RiskID)
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	return c
}

// DecisionResult 是最终交易建议。
type DecisionResult struct {
	Header          pipeline.ResultMeta `json:"meta"`
	Action          Action              `json:"action"`
	Rationale       string              `json:"rationale"`
	Source          string              `json:"source"`
	Provider        string              `json:"provider,omitempty"`
	StopLoss        float64             `json:"stop_loss,omitempty"`
	TakeProfit      float64             `json:"take_profit,omitempty"`
	PositionSizeUSD float64             `json:"position_size_usd,omitempty"`
}

func (r *DecisionResult) Meta() pipeline.ResultMeta { return r.Header }

// Decision 综合前序结果给出买卖建议：优先询问 LLM，失败时退回规则。
type Decision struct {
	cfg      DecisionConfig
	model    provider.ModelProvider
	recorder DecisionRecorder
	schema   *jsonschema.Schema
	log      logger.Scoped
}

func NewDecision(cfg DecisionConfig, model provider.ModelProvider, recorder DecisionRecorder) (*Decision, error) {
	schema, err := compileSchema(decisionSchema)
	if err != nil {
		return nil, fmt.Errorf("compile decision schema: %w", err)
	}
	return &Decision{
		cfg:      cfg.withDefaults(),
		model:    model,
		recorder: recorder,
		schema:   schema,
		log:      logger.Component("decision"),
	}, nil
}

func compileSchema(raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func (d *Decision) ID() string    { return d.cfg.ID }
func (d *Decision) Priority() int { return d.cfg.Priority }

func (d *Decision) CanRun(rc *pipeline.RunContext) bool {
	_, tech := rc.Result(d.cfg.TechnicalStep)
	_, risk := rc.Result(d.cfg.RiskStep)
	return tech || risk
}

func (d *Decision) Run(ctx context.Context, rc *pipeline.RunContext) (pipeline.Result, error) {
	start := time.Now()
	tech, _ := pipeline.ResultAs[*TechnicalResult](rc, d.cfg.TechnicalStep)
	risk, _ := pipeline.ResultAs[*RiskResult](rc, d.cfg.RiskStep)
	if risk != nil && risk.Level == RiskExtreme {
		return nil, pipeline.Reject(d.cfg.ID, "risk too high to trade (volatility %.2f%%)", risk.VolatilityPct)
	}

	res := &DecisionResult{Header: pipeline.NewMeta(d.cfg.ID, pipeline.KindDecision, rc.Subject)}
	if d.model != nil && d.model.Enabled() {
		if err := d.askModel(ctx, rc, tech, risk, res); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.log.Warnf("%s llm decision failed, using rules: %v", rc.Subject, err)
			d.applyRules(tech, risk, res)
		}
	} else {
		d.applyRules(tech, risk, res)
	}
	if risk != nil && res.Action != ActionHold {
		res.StopLoss = risk.StopLoss
		res.TakeProfit = risk.TakeProfit
		res.PositionSizeUSD = risk.PositionSizeUSD
	}
	res.Header.Summary = fmt.Sprintf("%s (%s, confidence %.2f): %s", res.Action, res.Source, res.Header.Confidence, res.Rationale)
	res.Header.Elapsed = time.Since(start)
	return res, nil
}

// applyRules 技术信号决定方向，风险等级折算置信度。
func (d *Decision) applyRules(tech *TechnicalResult, risk *RiskResult, res *DecisionResult) {
	res.Source = SourceRules
	res.Provider = ""
	res.Action = ActionHold
	conf := 0.5
	reasons := make([]string, 0, 2)
	if tech != nil {
		conf = tech.Header.Confidence
		switch tech.Signal {
		case SignalBullish:
			res.Action = ActionBuy
		case SignalBearish:
			res.Action = ActionSell
		}
		reasons = append(reasons, fmt.Sprintf("technical %s (score %d)", tech.Signal, tech.Score))
	} else {
		reasons = append(reasons, "no technical signal")
	}
	if risk != nil {
		conf *= levelConfidence(risk.Level)
		if risk.Level == RiskHigh && res.Action != ActionHold {
			res.Action = ActionHold
			reasons = append(reasons, "high volatility, standing aside")
		} else {
			reasons = append(reasons, fmt.Sprintf("%s risk", risk.Level))
		}
	}
	res.Header.Confidence = round(clamp(conf, 0, 1), 4)
	res.Rationale = strings.Join(reasons, "; ")
}

func (d *Decision) askModel(ctx context.Context, rc *pipeline.RunContext, tech *TechnicalResult, risk *RiskResult, res *DecisionResult) error {
	user, err := buildUserPrompt(rc.Subject, tech, risk)
	if err != nil {
		return err
	}
	rec := DecisionRecord{
		RunID:        rc.RunID,
		Symbol:       rc.Subject,
		Provider:     d.model.ID(),
		SystemPrompt: decisionSystemPrompt,
		UserPrompt:   user,
		CreatedAt:    time.Now().UTC(),
	}
	raw, callErr := d.model.Call(ctx, provider.ChatPayload{
		Subject:    rc.Subject,
		System:     decisionSystemPrompt,
		User:       user,
		ExpectJSON: true,
		MaxTokens:  d.cfg.MaxTokens,
	})
	rec.RawOutput = raw
	var parsed parsedDecision
	if callErr == nil {
		parsed, err = d.parse(raw)
	} else {
		err = callErr
	}
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.Valid = true
		rec.Action = string(parsed.Action)
	}
	d.record(ctx, rec)
	if err != nil {
		return err
	}
	res.Source = SourceLLM
	res.Provider = d.model.ID()
	res.Action = parsed.Action
	res.Rationale = parsed.Rationale
	res.Header.Confidence = parsed.Confidence
	return nil
}

func (d *Decision) record(ctx context.Context, rec DecisionRecord) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordDecision(ctx, rec); err != nil {
		d.log.Warnf("record decision for %s failed: %v", rec.Symbol, err)
	}
}

type parsedDecision struct {
	Action     Action
	Confidence float64
	Rationale  string
}

var errNoJSON = errors.New("no json object in model output")

// parse 从模型输出中抽取 JSON 对象并做 schema 校验。
func (d *Decision) parse(raw string) (parsedDecision, error) {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return parsedDecision{}, err
	}
	var doc any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return parsedDecision{}, fmt.Errorf("decode model output: %w", err)
	}
	if err := d.schema.Validate(doc); err != nil {
		return parsedDecision{}, fmt.Errorf("model output rejected: %w", err)
	}
	parsed := gjson.Parse(obj)
	return parsedDecision{
		Action:     Action(parsed.Get("action").String()),
		Confidence: parsed.Get("confidence").Float(),
		Rationale:  strings.TrimSpace(parsed.Get("rationale").String()),
	}, nil
}

// extractJSONObject 兼容 ```json 代码块以及前后夹杂说明文字的输出。
func extractJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errNoJSON
	}
	if gjson.Valid(s) && gjson.Parse(s).IsObject() {
		return s, nil
	}
	if i := strings.Index(s, "```"); i >= 0 {
		body := s[i+3:]
		body = strings.TrimPrefix(body, "json")
		if j := strings.Index(body, "```"); j >= 0 {
			body = strings.TrimSpace(body[:j])
			if gjson.Valid(body) && gjson.Parse(body).IsObject() {
				return body, nil
			}
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		candidate := s[start : end+1]
		if gjson.Valid(candidate) {
			return candidate, nil
		}
	}
	return "", errNoJSON
}

type promptInput struct {
	Symbol    string           `json:"symbol"`
	Technical *TechnicalResult `json:"technical,omitempty"`
	Risk      *RiskResult      `json:"risk,omitempty"`
}

func buildUserPrompt(symbol string, tech *TechnicalResult, risk *RiskResult) (string, error) {
	body, err := json.MarshalIndent(promptInput{Symbol: symbol, Technical: tech, Risk: risk}, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Analysis for %s:\n%s\nDecide the next action.", symbol, body), nil
}

var _ pipeline.Step = (*Decision)(nil)

package circuit

import (
	"sync"
	"time"
)

// State 熔断器状态：Closed 放行、Open 阻断、HalfOpen 试探。
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText 让状态在 JSON 中以字符串出现。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	DefaultThreshold      = 5
	DefaultRecoveryWindow = 60 * time.Second
	DefaultProbeBudget    = 3
)

// Config 熔断参数，零值字段使用默认值。
type Config struct {
	Threshold      int
	RecoveryWindow time.Duration
	ProbeBudget    int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = DefaultRecoveryWindow
	}
	if c.ProbeBudget <= 0 {
		c.ProbeBudget = DefaultProbeBudget
	}
	return c
}

// StateChangeHandler 在状态迁移后被调用（锁已释放）。
type StateChangeHandler func(name string, from, to State)

// Stats 是熔断器某一时刻的一致快照。
type Stats struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	Probes      int       `json:"probes"`
	LastFailure time.Time `json:"last_failure"`
	Threshold   int       `json:"threshold"`
}

type CircuitBreaker struct {
	mu          sync.Mutex
	name        string
	cfg         Config
	state       State
	failures    int
	probes      int
	lastFailure time.Time
	clock       func() time.Time
	onChange    StateChangeHandler
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: StateClosed,
		clock: time.Now,
	}
}

// SetClock 替换时间源，测试使用。
func (cb *CircuitBreaker) SetClock(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	cb.mu.Lock()
	cb.clock = clock
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) SetStateChangeHandler(handler StateChangeHandler) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = handler
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Allow 判断本次调用是否放行。Open 状态超过恢复窗口后转入 HalfOpen 并放行本次调用，
// 这次调用计为第一次探测；每轮探测合计最多放行 ProbeBudget 次，超出则重新 Open。
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	var (
		allowed bool
		from    = cb.state
	)
	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.clock().Sub(cb.lastFailure) > cb.cfg.RecoveryWindow {
			cb.state = StateHalfOpen
			cb.probes = 1
			allowed = true
		}
	case StateHalfOpen:
		cb.probes++
		if cb.probes <= cb.cfg.ProbeBudget {
			allowed = true
		} else {
			cb.state = StateOpen
			cb.lastFailure = cb.clock()
		}
	}
	to, handler := cb.state, cb.onChange
	cb.mu.Unlock()
	cb.notify(handler, from, to)
	return allowed
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.probes = 0
	}
	to, handler := cb.state, cb.onChange
	cb.mu.Unlock()
	cb.notify(handler, from, to)
}

// RecordFailure 只在 Closed 状态下依据阈值跳闸；Open/HalfOpen 的迁移交给下一次 Allow。
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.failures++
	cb.lastFailure = cb.clock()
	if cb.state == StateClosed && cb.failures >= cb.cfg.Threshold {
		cb.state = StateOpen
	}
	to, handler := cb.state, cb.onChange
	cb.mu.Unlock()
	cb.notify(handler, from, to)
}

// Reset 管理操作：回到 Closed 并清空计数。
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.lastFailure = time.Time{}
	to, handler := cb.state, cb.onChange
	cb.mu.Unlock()
	cb.notify(handler, from, to)
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:        cb.name,
		State:       cb.state,
		Failures:    cb.failures,
		Probes:      cb.probes,
		LastFailure: cb.lastFailure,
		Threshold:   cb.cfg.Threshold,
	}
}

func (cb *CircuitBreaker) notify(handler StateChangeHandler, from, to State) {
	if handler == nil || from == to {
		return
	}
	handler(cb.name, from, to)
}

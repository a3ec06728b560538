package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Registry 持有固定的步骤集合，构造后只读，可在并发运行间共享。
type Registry struct {
	byID    map[string]Step
	ordered []Step
}

// NewRegistry 按优先级升序排好步骤；相同优先级保持注册顺序。
func NewRegistry(steps ...Step) (*Registry, error) {
	byID := make(map[string]Step, len(steps))
	ordered := make([]Step, 0, len(steps))
	for i, st := range steps {
		if st == nil {
			return nil, fmt.Errorf("step #%d is nil", i)
		}
		id := strings.TrimSpace(st.ID())
		if id == "" {
			return nil, fmt.Errorf("step #%d has empty id", i)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("duplicate step id %q", id)
		}
		byID[id] = st
		ordered = append(ordered, st)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})
	return &Registry{byID: byID, ordered: ordered}, nil
}

func (r *Registry) Resolve(id string) (Step, error) {
	st, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	return st, nil
}

// Ordered 返回执行顺序的副本。
func (r *Registry) Ordered() []Step {
	return append([]Step(nil), r.ordered...)
}

func (r *Registry) Supports(id string) bool {
	_, err := r.Resolve(id)
	return err == nil
}

// IDs 按执行顺序返回步骤 ID。
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.ordered))
	for _, st := range r.ordered {
		out = append(out, st.ID())
	}
	return out
}

func (r *Registry) Len() int { return len(r.ordered) }

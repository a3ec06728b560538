package market

import (
	"context"
	"errors"
)

// ErrNoData 表示既没有实时数据也没有可用的兜底数据。
var ErrNoData = errors.New("market data unavailable")

// Source 是上游行情数据源。实现方只负责取数，不做熔断。
type Source interface {
	FetchSnapshot(ctx context.Context, symbol string) (Snapshot, error)
}

// SourceFunc 让普通函数满足 Source。
type SourceFunc func(ctx context.Context, symbol string) (Snapshot, error)

func (f SourceFunc) FetchSnapshot(ctx context.Context, symbol string) (Snapshot, error) {
	return f(ctx, symbol)
}

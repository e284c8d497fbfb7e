package ports

import (
	"context"
	"errors"

	"github.com/betbot/spotguard/internal/domain"
)

var (
	// ErrOrderNotFound 订单存储中不存在该 client_order_id
	ErrOrderNotFound = errors.New("order record not found")
	// ErrOrderExists 同一 client_order_id 已存在
	ErrOrderExists = errors.New("order record already exists")
)

// OrderStore 订单持久化。必须跨进程重启持久，崩溃后重试下单能发现已有记录。
type OrderStore interface {
	Create(ctx context.Context, rec *domain.OrderRecord) error
	Get(ctx context.Context, clientOrderID string) (*domain.OrderRecord, error)
	Update(ctx context.Context, rec *domain.OrderRecord) error
	// ListActive 所有非终态订单
	ListActive(ctx context.Context) ([]*domain.OrderRecord, error)
	// ListByPair 指定交易对的订单（含终态）
	ListByPair(ctx context.Context, pair domain.Pair) ([]*domain.OrderRecord, error)
	Close() error
}

package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind 交易所错误分类
type ErrorKind string

const (
	KindNetworkTransient    ErrorKind = "network_transient"    // 超时/连接重置，可退避重试，不改变订单状态
	KindExchangeRejected    ErrorKind = "exchange_rejected"    // 参数非法/交易所拒绝，终态，不重试
	KindInsufficientBalance ErrorKind = "insufficient_balance" // 余额不足，按拒单处理
	KindOrderNotFound       ErrorKind = "order_not_found"      // 交易所查无此单，按取消处理
)

// ExchangeError 带分类标签的交易所错误
type ExchangeError struct {
	Kind    ErrorKind
	Label   string // 交易所返回的错误标签，例如 BALANCE_NOT_ENOUGH
	Message string
	Err     error
}

func (e *ExchangeError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("%s: %s %s", e.Kind, e.Label, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// NewExchangeError 构造分类错误
func NewExchangeError(kind ErrorKind, label, message string) *ExchangeError {
	return &ExchangeError{Kind: kind, Label: label, Message: message}
}

// Transient 将底层网络错误包装为可重试错误
func Transient(err error) *ExchangeError {
	return &ExchangeError{Kind: KindNetworkTransient, Err: err}
}

// KindOf 提取错误分类；无法识别的错误返回空
func KindOf(err error) ErrorKind {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsRetryable 只有网络瞬时错误允许重试
func IsRetryable(err error) bool {
	return KindOf(err) == KindNetworkTransient
}

// IsTerminalRejection 交易所拒单或余额不足
func IsTerminalRejection(err error) bool {
	k := KindOf(err)
	return k == KindExchangeRejected || k == KindInsufficientBalance
}

// IsNotFound 交易所查无此单
func IsNotFound(err error) bool {
	return KindOf(err) == KindOrderNotFound
}

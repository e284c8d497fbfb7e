package execution

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/betbot/spotguard/internal/domain"
)

// Gate.io 自定义订单号（text 字段）必须以 t- 开头，总长度不超过 28。
const (
	clientIDPrefix = "t-"
	clientIDBody   = 26
)

var clientIDNamespace = uuid.MustParse("8f4b2a52-1c1e-4b7f-9a55-3f2d6c0a9e11")

// DeterministicClientOrderID 由 (pair, timestamp, action) 推导：同一意图重试得到同一 id。
func DeterministicClientOrderID(sig domain.TradingSignal) string {
	key := fmt.Sprintf("%s|%d|%s", sig.Pair, sig.Timestamp.UnixNano(), sig.Action)
	return formatClientID(uuid.NewSHA1(clientIDNamespace, []byte(key)))
}

// RandomClientOrderID 独立幂等场景使用的随机 id
func RandomClientOrderID() string {
	return formatClientID(uuid.New())
}

func formatClientID(u uuid.UUID) string {
	return clientIDPrefix + hex.EncodeToString(u[:])[:clientIDBody]
}

// IsClientOrderID 粗略判断字符串是否是本系统生成的客户端订单号
func IsClientOrderID(id string) bool {
	return strings.HasPrefix(id, clientIDPrefix) && len(id) == len(clientIDPrefix)+clientIDBody
}

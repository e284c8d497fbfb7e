package strategies

import "github.com/betbot/spotguard/internal/domain"

// HoldID 永远观望，用于只跑对账/清理的部署
const HoldID = "hold"

func init() {
	RegisterStrategy(HoldID, func(Params) (Strategy, error) { return holdStrategy{}, nil })
}

type holdStrategy struct{}

func (holdStrategy) Name() string { return HoldID }

func (holdStrategy) Analyze(market domain.Ticker, _ domain.AccountSnapshot) domain.TradingSignal {
	return domain.Hold(market.Pair, "hold strategy", market.Timestamp)
}

package indicator

import (
	"github.com/newthinker/tradeflow/internal/bus"
	"github.com/newthinker/tradeflow/internal/core"
)

func kline(c core.Candle) bus.Message {
	return busMessage(core.KlineTopic(c.Symbol, c.Timeframe), c)
}

func busMessage(topic string, payload any) bus.Message {
	return bus.Message{Topic: topic, Payload: payload}
}

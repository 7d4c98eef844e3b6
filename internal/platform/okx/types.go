package okx

import "encoding/json"

// apiResponse is the common REST envelope. Code "0" means success.
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// tickerRow is one entry of GET /api/v5/market/tickers. All numeric fields
// arrive as strings.
type tickerRow struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	Open24h   string `json:"open24h"`
	VolCcy24h string `json:"volCcy24h"`
}

// balanceData is one entry of GET /api/v5/account/balance.
type balanceData struct {
	Details []balanceDetail `json:"details"`
}

// balanceDetail carries one currency's equity (free + frozen).
type balanceDetail struct {
	Ccy string `json:"ccy"`
	Eq  string `json:"eq"`
}

// WSRequest is an outbound WebSocket operation frame.
type WSRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

// SubscribeArg identifies a channel in a subscribe frame.
type SubscribeArg struct {
	Channel  string `json:"channel"`
	InstType string `json:"instType,omitempty"`
}

// WSMessage is the common inbound WebSocket envelope. Event frames carry
// Event/Code, data frames carry Arg/Data.
type WSMessage struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

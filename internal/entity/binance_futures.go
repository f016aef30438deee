package entity

type BinanceFuturesErrorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type BinanceFuturesOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigType      string `json:"origType"`
	PositionSide  string `json:"positionSide"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuote      string `json:"cumQuote"`
	TimeInForce   string `json:"timeInForce"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	UpdateTime    int64  `json:"updateTime"`
}

type BinanceFuturesPositionRisk struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      string  `json:"positionAmt"`
	EntryPrice       string  `json:"entryPrice"`
	MarkPrice        string  `json:"markPrice"`
	UnRealizedProfit string  `json:"unRealizedProfit"`
	LiquidationPrice string  `json:"liquidationPrice"`
	Leverage         string  `json:"leverage"`
	MarginType       string  `json:"marginType"`
	IsolatedMargin   *string `json:"isolatedMargin"`
	MaintMargin      *string `json:"maintMargin"`
	PositionSide     string  `json:"positionSide"`
	UpdateTime       int64   `json:"updateTime"`
}

type BinanceFuturesExchangeInfo struct {
	Symbols []BinanceFuturesSymbolInfo `json:"symbols"`
}

type BinanceFuturesSymbolInfo struct {
	Symbol  string                       `json:"symbol"`
	Status  string                       `json:"status"`
	Filters []BinanceFuturesSymbolFilter `json:"filters"`
}

type BinanceFuturesSymbolFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
	MaxQty     string `json:"maxQty"`
}

type BinanceFuturesLeverageResponse struct {
	Symbol           string `json:"symbol"`
	Leverage         int    `json:"leverage"`
	MaxNotionalValue string `json:"maxNotionalValue"`
}

type BinanceFuturesAccountResponse struct {
	TotalMarginBalance    string                       `json:"totalMarginBalance"`
	AvailableBalance      string                       `json:"availableBalance"`
	TotalUnrealizedProfit string                       `json:"totalUnrealizedProfit"`
	Assets                []BinanceFuturesAccountAsset `json:"assets"`
}

type BinanceFuturesAccountAsset struct {
	Asset         string `json:"asset"`
	WalletBalance string `json:"walletBalance"`
}

// BinanceFuturesMarkPriceEvent is the payload of the <symbol>@markPrice stream.
type BinanceFuturesMarkPriceEvent struct {
	Event       string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	IndexPrice  string `json:"i"`
	FundingRate string `json:"r"`
}

const (
	BinanceFuturesCodeNoNeedToChangeMarginType = -4046
	BinanceFuturesCodeDuplicateClientOrderID   = -4116
	BinanceFuturesCodeUnknownOrder             = -2013
	BinanceFuturesPositionSideBoth             = "BOTH"
)

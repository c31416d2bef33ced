package types

// Token describes an asset the backend knows about
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	ImageURL string `json:"imageUrl,omitempty"`
	Chain    string `json:"chain"`
	ChainID  int64  `json:"chainId"`
}

// PairTokens is the base/quote pair of a market
type PairTokens struct {
	BaseToken  Token `json:"baseToken"`
	QuoteToken Token `json:"quoteToken"`
}

// Market is a tradable perpetual market
type Market struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Chain              string     `json:"chain"`
	ChainID            int64      `json:"chainId"`
	Exchange           string     `json:"exchange"`
	BaseTokenAddress   string     `json:"baseTokenAddress"`
	QuoteTokenAddress  string     `json:"quoteTokenAddress"`
	PriceSourceAddress string     `json:"priceSourceAddress,omitempty"`
	ChartPairAddress   string     `json:"chartPairAddress,omitempty"`
	FeeBps             int        `json:"feeBps"`
	Enabled            bool       `json:"enabled"`
	Pair               PairTokens `json:"pair"`
	MaxLeverage        float64    `json:"maxLeverage"`
}

// MarketStats holds rolling statistics for a market's base token
type MarketStats struct {
	Address             string  `json:"address"`
	Symbol              string  `json:"symbol"`
	Price               float64 `json:"price"`
	PriceUSD            float64 `json:"priceUsd"`
	MarketCap           float64 `json:"marketCap"`
	OneHourVolumeUSD    float64 `json:"oneHourVolumeUsd"`
	OneHourChange       float64 `json:"oneHourChange"`
	FourHourVolumeUSD   float64 `json:"fourHourVolumeUsd"`
	FourHourChange      float64 `json:"fourHourChange"`
	TwelveHourVolumeUSD float64 `json:"twelveHourVolumeUsd"`
	TwelveHourChange    float64 `json:"twelveHourChange"`
	OneDayVolumeUSD     float64 `json:"oneDayVolumeUsd"`
	OneDayChange        float64 `json:"oneDayChange"`
}

// MarketStatsList pairs a market with its stats
type MarketStatsList struct {
	Market     Market      `json:"market"`
	TokenStats MarketStats `json:"tokenStats"`
}

// Page is the backend's paginated envelope
type Page[T any] struct {
	HasNextPage   bool   `json:"hasNextPage"`
	NextPageToken string `json:"nextPageToken,omitempty"`
	Items         []T    `json:"items"`
}

// QuoteResponse is a price quote for a prospective position
type QuoteResponse struct {
	Market            Market  `json:"market"`
	Side              string  `json:"side"`
	DownPayment       Amount  `json:"downPayment"`
	OutputSize        Amount  `json:"outputSize"`
	OutputSizeInQuote Amount  `json:"outputSizeInQuote"`
	Fee               Amount  `json:"fee"`
	EntryPrice        float64 `json:"entryPrice"`
	LiquidationPrice  float64 `json:"liquidationPrice"`
	ErrorMessage      string  `json:"errorMessage,omitempty"`
	HourlyBorrowFee   float64 `json:"hourlyBorrowFee"`
	Principal         Amount  `json:"principal"`
}

// Position is an open position as stored by the backend
type Position struct {
	ID                        int64   `json:"id"`
	PoolAddress               string  `json:"poolAddress"`
	OpenTimestamp             int64   `json:"openTimestamp"`
	Side                      string  `json:"side"`
	TraderAddress             string  `json:"traderAddress"`
	CurrencyAddress           string  `json:"currencyAddress"`
	CollateralCurrencyAddress string  `json:"collateralCurrencyAddress"`
	DownPaymentRaw            Amount  `json:"downPaymentRaw"`
	DownPayment               float64 `json:"downPayment"`
	PrincipalRaw              Amount  `json:"principalRaw"`
	Principal                 float64 `json:"principal"`
	CollateralAmount          float64 `json:"collateralAmount"`
	FeesToBePaid              float64 `json:"feesToBePaid"`
	EntryPrice                float64 `json:"entryPrice"`
	Leverage                  float64 `json:"leverage"`
}

// PositionStatus is a position with live valuation
type PositionStatus struct {
	Position         Position `json:"position"`
	Market           Market   `json:"market"`
	NetValue         Amount   `json:"netValue"`
	MarkPrice        float64  `json:"markPrice"`
	LiquidationPrice float64  `json:"liquidationPrice"`
	InterestPaid     Amount   `json:"interestPaid"`
	APR              float64  `json:"apr"`
	PnL              Amount   `json:"pnl"`
	PnLWithFee       Amount   `json:"pnlWithFee"`
	Fee              Amount   `json:"fee"`
	HasError         bool     `json:"hasError"`
}

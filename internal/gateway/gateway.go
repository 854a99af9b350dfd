package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// TransientError wraps transport-level failures: timeouts, refused
// connections, bad payloads. Nothing was accepted; the next poll tick retries.
type TransientError struct {
	Endpoint string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectionError is a gateway-level refusal (ok=false in the envelope). No
// order was accepted and no state may be mutated.
type RejectionError struct {
	Endpoint string
	Message  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("gateway %s rejected: %s", e.Endpoint, e.Message)
}

type Quote struct {
	Symbol    string
	LastPrice decimal.Decimal
	Volume    int64
	Timestamp time.Time
}

type OrderRequest struct {
	Symbol        string
	Qty           int64
	Price         decimal.Decimal
	Side          string // SideBuy or SideSell
	ClientOrderID string // stable per symbol per trading day
}

// OrderResult carries the raw gateway payload so the ledger can record the
// broker's answer verbatim.
type OrderResult struct {
	Raw string
}

type Options struct {
	BaseURL      string
	ExchangeType string // e.g. "P" for US equities
	DataType     int    // e.g. 20002 for US equities
	Timeout      time.Duration
	Credential   string // pre-encrypted login credential, supplied externally
}

// Client speaks the gateway's uniform contract: POST {timeout_sec, params} to
// <base>/<endpoint>, decode {ok, data, err}.
type Client struct {
	baseURL      string
	exchangeType string
	dataType     int
	timeout      time.Duration
	credential   string
	http         *http.Client
	log          *zap.Logger
}

func New(opts Options, log *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://127.0.0.1:11111"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      opts.BaseURL,
		exchangeType: opts.ExchangeType,
		dataType:     opts.DataType,
		timeout:      opts.Timeout,
		credential:   opts.Credential,
		http:         &http.Client{Timeout: opts.Timeout},
		log:          log,
	}
}

type envelope struct {
	TimeoutSec int `json:"timeout_sec"`
	Params     any `json:"params"`
}

type reply struct {
	OK   bool            `json:"ok"`
	Data json.RawMessage `json:"data"`
	Err  string          `json:"err"`
}

func (c *Client) post(ctx context.Context, endpoint string, params any, out any) error {
	body, err := json.Marshal(envelope{TimeoutSec: int(c.timeout.Seconds()), Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Endpoint: endpoint, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &TransientError{Endpoint: endpoint, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	var r reply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return &TransientError{Endpoint: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !r.OK {
		msg := r.Err
		if msg == "" {
			msg = "unknown error"
		}
		return &RejectionError{Endpoint: endpoint, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(r.Data, out); err != nil {
			return &TransientError{Endpoint: endpoint, Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	return nil
}

// Login establishes the trading session. The credential is already encrypted
// by the operator's one-time setup and is forwarded verbatim.
func (c *Client) Login(ctx context.Context) error {
	if err := c.post(ctx, "trade/TradeLogin", map[string]any{"password": c.credential}, nil); err != nil {
		c.log.Error("gateway login failed", zap.Error(err))
		return err
	}
	c.log.Info("gateway login succeeded")
	return nil
}

type basicQot struct {
	Code      string          `json:"code"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Volume    int64           `json:"volume"`
}

type quoteData struct {
	BasicQot []basicQot `json:"basicQot"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (Quote, error) {
	params := map[string]any{
		"security":  []map[string]any{{"dataType": c.dataType, "code": symbol}},
		"mktTmType": 1,
	}
	var data quoteData
	if err := c.post(ctx, "hq/BasicQot", params, &data); err != nil {
		return Quote{}, err
	}
	if len(data.BasicQot) == 0 {
		return Quote{}, &RejectionError{Endpoint: "hq/BasicQot", Message: "no quote returned for " + symbol}
	}
	q := data.BasicQot[0]
	c.log.Debug("quote fetched",
		zap.String("symbol", symbol),
		zap.String("last_price", q.LastPrice.String()),
		zap.Int64("volume", q.Volume))
	return Quote{Symbol: symbol, LastPrice: q.LastPrice, Volume: q.Volume, Timestamp: time.Now()}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	entrustBs := "1"
	if req.Side == SideSell {
		entrustBs = "2"
	}
	params := map[string]any{
		"exchangeType":  c.exchangeType,
		"stockCode":     req.Symbol,
		"entrustAmount": req.Qty,
		"entrustPrice":  req.Price.String(),
		"entrustBs":     entrustBs,
		"entrustType":   "3",
		"clientOrderId": req.ClientOrderID,
	}
	var raw json.RawMessage
	if err := c.post(ctx, "trade/TradeEntrust", params, &raw); err != nil {
		c.log.Error("place order failed",
			zap.String("symbol", req.Symbol),
			zap.String("side", req.Side),
			zap.Int64("qty", req.Qty),
			zap.Error(err))
		return OrderResult{}, err
	}
	c.log.Info("place order success",
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side),
		zap.Int64("qty", req.Qty),
		zap.String("price", req.Price.String()),
		zap.String("client_order_id", req.ClientOrderID))
	return OrderResult{Raw: string(raw)}, nil
}

type positionEntry struct {
	StockCode     string          `json:"stockCode"`
	CanSellAmount decimal.Decimal `json:"canSellAmount"`
}

type positionData struct {
	PositionList []positionEntry `json:"positionList"`
}

// PositionQty returns the sellable quantity held for symbol, zero when absent.
func (c *Client) PositionQty(ctx context.Context, symbol string) (int64, error) {
	params := map[string]any{
		"exchangeType":  c.exchangeType,
		"queryCount":    100,
		"queryParamStr": "0",
	}
	var data positionData
	if err := c.post(ctx, "trade/TradeQueryPositionList", params, &data); err != nil {
		return 0, err
	}
	for _, pos := range data.PositionList {
		if pos.StockCode == symbol {
			return pos.CanSellAmount.IntPart(), nil
		}
	}
	return 0, nil
}

type fundData struct {
	TotalAsset decimal.Decimal `json:"totalAsset"`
}

// TotalAssets reports account total assets, consumed by the position cap check.
func (c *Client) TotalAssets(ctx context.Context) (decimal.Decimal, error) {
	var data fundData
	if err := c.post(ctx, "trade/TradeQueryFund", map[string]any{"exchangeType": c.exchangeType}, &data); err != nil {
		return decimal.Zero, err
	}
	return data.TotalAsset, nil
}

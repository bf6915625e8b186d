package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"forex-trading-bot/internal/metrics"
)

// Compile-time check that the REST client satisfies the broker contract.
var _ Broker = (*Client)(nil)

const (
	// PracticeHost is the paper-trading REST endpoint.
	PracticeHost = "https://api-fxpractice.oanda.com"
	// LiveHost is the real-money REST endpoint.
	LiveHost = "https://api-fxtrade.oanda.com"

	maxAttempts = 5
	retryBase   = time.Second
	retryCap    = 30 * time.Second
	callTimeout = 10 * time.Second
)

// Client talks to the brokerage v3 REST API. Paper and live differ only in
// the host; everything else is identical.
type Client struct {
	token      string
	accountID  string
	baseURL    string
	httpClient *http.Client
}

// ClientConfig carries broker connection settings.
type ClientConfig struct {
	Token     string
	AccountID string
	BaseURL   string
}

// NewClient builds a REST client. BaseURL defaults to the practice host.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = PracticeHost
	}
	return &Client{
		token:      cfg.Token,
		accountID:  cfg.AccountID,
		baseURL:    base,
		httpClient: &http.Client{Timeout: callTimeout},
	}
}

type candlesResponse struct {
	Instrument  string `json:"instrument"`
	Granularity string `json:"granularity"`
	Candles     []struct {
		Complete bool   `json:"complete"`
		Volume   int64  `json:"volume"`
		Time     string `json:"time"`
		Mid      struct {
			O string `json:"o"`
			H string `json:"h"`
			L string `json:"l"`
			C string `json:"c"`
		} `json:"mid"`
	} `json:"candles"`
}

// FetchCandles returns the most recent count candles, oldest first. The
// final candle may still be forming; callers drop it before evaluation.
func (c *Client) FetchCandles(ctx context.Context, instrument string, granularity Granularity, count int) ([]Candle, error) {
	params := url.Values{}
	params.Set("granularity", string(granularity))
	params.Set("count", strconv.Itoa(count))
	params.Set("price", "M")

	endpoint := fmt.Sprintf("%s/v3/instruments/%s/candles?%s", c.baseURL, instrument, params.Encode())

	var resp candlesResponse
	if err := c.get(ctx, "candles", endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetching candles for %s %s: %w", instrument, granularity, err)
	}

	return convertCandles(instrument, granularity, resp)
}

// maxCandlesPerPage is the API's per-request candle limit.
const maxCandlesPerPage = 5000

// FetchCandlesRange returns all complete candles in [from, to), oldest
// first, paginating as needed. Used by the backtest loader.
func (c *Client) FetchCandlesRange(ctx context.Context, instrument string, granularity Granularity, from, to time.Time) ([]Candle, error) {
	var out []Candle
	cursor := from

	for cursor.Before(to) {
		params := url.Values{}
		params.Set("granularity", string(granularity))
		params.Set("from", cursor.Format(time.RFC3339))
		params.Set("count", strconv.Itoa(maxCandlesPerPage))
		params.Set("price", "M")

		endpoint := fmt.Sprintf("%s/v3/instruments/%s/candles?%s", c.baseURL, instrument, params.Encode())

		var resp candlesResponse
		if err := c.get(ctx, "candles", endpoint, &resp); err != nil {
			return nil, fmt.Errorf("fetching candle range for %s %s: %w", instrument, granularity, err)
		}
		batch, err := convertCandles(instrument, granularity, resp)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		for _, candle := range batch {
			if !candle.Time.Before(to) {
				return out, nil
			}
			if candle.Complete && !candle.Time.Before(cursor) {
				out = append(out, candle)
			}
		}

		last := batch[len(batch)-1].Time
		if len(batch) < maxCandlesPerPage || !last.Before(to) {
			break
		}
		cursor = last.Add(granularity.Duration())
	}

	return out, nil
}

func convertCandles(instrument string, granularity Granularity, resp candlesResponse) ([]Candle, error) {
	candles := make([]Candle, 0, len(resp.Candles))
	for _, raw := range resp.Candles {
		ts, err := time.Parse(time.RFC3339, raw.Time)
		if err != nil {
			return nil, fmt.Errorf("parsing candle time %q: %w", raw.Time, err)
		}
		candles = append(candles, Candle{
			Instrument:  instrument,
			Granularity: granularity,
			Time:        ts.UTC(),
			Open:        parsePrice(raw.Mid.O),
			High:        parsePrice(raw.Mid.H),
			Low:         parsePrice(raw.Mid.L),
			Close:       parsePrice(raw.Mid.C),
			Volume:      raw.Volume,
			Complete:    raw.Complete,
		})
	}

	return candles, nil
}

type accountResponse struct {
	Account struct {
		NAV            string `json:"NAV"`
		Balance        string `json:"balance"`
		UnrealizedPL   string `json:"unrealizedPL"`
		OpenTradeCount int    `json:"openTradeCount"`
	} `json:"account"`
}

// GetAccount returns equity, balance and open position count.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	endpoint := fmt.Sprintf("%s/v3/accounts/%s/summary", c.baseURL, c.accountID)

	var resp accountResponse
	if err := c.get(ctx, "account", endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetching account summary: %w", err)
	}

	equity, err := parseDecimal(resp.Account.NAV)
	if err != nil {
		return nil, fmt.Errorf("parsing account NAV: %w", err)
	}
	balance, err := parseDecimal(resp.Account.Balance)
	if err != nil {
		return nil, fmt.Errorf("parsing account balance: %w", err)
	}
	unrealized, err := parseDecimal(resp.Account.UnrealizedPL)
	if err != nil {
		return nil, fmt.Errorf("parsing unrealized PL: %w", err)
	}

	return &Account{
		Equity:        equity,
		Balance:       balance,
		UnrealizedPL:  unrealized,
		OpenPositions: resp.Account.OpenTradeCount,
	}, nil
}

type openTradesResponse struct {
	Trades []struct {
		ID            string `json:"id"`
		Instrument    string `json:"instrument"`
		CurrentUnits  string `json:"currentUnits"`
		Price         string `json:"price"`
		OpenTime      string `json:"openTime"`
		UnrealizedPL  string `json:"unrealizedPL"`
		StopLossOrder *struct {
			Price string `json:"price"`
		} `json:"stopLossOrder"`
		TakeProfitOrder *struct {
			Price string `json:"price"`
		} `json:"takeProfitOrder"`
	} `json:"trades"`
}

// GetPositions returns all open trades on the account.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	endpoint := fmt.Sprintf("%s/v3/accounts/%s/openTrades", c.baseURL, c.accountID)

	var resp openTradesResponse
	if err := c.get(ctx, "open_trades", endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetching open trades: %w", err)
	}

	positions := make([]Position, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		units := parsePrice(t.CurrentUnits)
		direction := "buy"
		if units < 0 {
			direction = "sell"
		}

		openTime, err := time.Parse(time.RFC3339, t.OpenTime)
		if err != nil {
			return nil, fmt.Errorf("parsing trade open time %q: %w", t.OpenTime, err)
		}
		unrealized, err := parseDecimal(t.UnrealizedPL)
		if err != nil {
			return nil, fmt.Errorf("parsing trade unrealized PL: %w", err)
		}

		pos := Position{
			OrderID:      t.ID,
			Instrument:   t.Instrument,
			Direction:    direction,
			Units:        units,
			AvgPrice:     parsePrice(t.Price),
			OpenTime:     openTime.UTC(),
			UnrealizedPL: unrealized,
		}
		if t.StopLossOrder != nil {
			pos.StopLoss = parsePrice(t.StopLossOrder.Price)
		}
		if t.TakeProfitOrder != nil {
			pos.TakeProfit = parsePrice(t.TakeProfitOrder.Price)
		}
		positions = append(positions, pos)
	}

	return positions, nil
}

type orderCreateResponse struct {
	OrderFillTransaction *struct {
		Price       string `json:"price"`
		Time        string `json:"time"`
		TradeOpened *struct {
			TradeID string `json:"tradeID"`
		} `json:"tradeOpened"`
	} `json:"orderFillTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
}

// PlaceOrder submits a market order with attached stop and target.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderFill, error) {
	instrument := req.Instrument
	body := map[string]interface{}{
		"order": map[string]interface{}{
			"type":         "MARKET",
			"instrument":   instrument,
			"units":        formatUnits(instrument, req.Units),
			"timeInForce":  "FOK",
			"positionFill": "DEFAULT",
			"stopLossOnFill": map[string]string{
				"price": formatPrice(instrument, req.StopLoss),
			},
			"takeProfitOnFill": map[string]string{
				"price": formatPrice(instrument, req.TakeProfit),
			},
		},
	}
	if req.ClientID != "" {
		body["order"].(map[string]interface{})["clientExtensions"] = map[string]string{"id": req.ClientID}
	}

	endpoint := fmt.Sprintf("%s/v3/accounts/%s/orders", c.baseURL, c.accountID)

	var resp orderCreateResponse
	if err := c.post(ctx, "order_create", http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, fmt.Errorf("placing order on %s: %w", instrument, err)
	}

	if resp.OrderFillTransaction == nil {
		reason := "order not filled"
		if resp.OrderCancelTransaction != nil {
			reason = resp.OrderCancelTransaction.Reason
		}
		return nil, &APIError{StatusCode: http.StatusBadRequest, Message: reason}
	}

	fill := resp.OrderFillTransaction
	openTime, err := time.Parse(time.RFC3339, fill.Time)
	if err != nil {
		openTime = time.Now().UTC()
	}

	orderID := ""
	if fill.TradeOpened != nil {
		orderID = fill.TradeOpened.TradeID
	}

	return &OrderFill{
		OrderID:   orderID,
		FillPrice: parsePrice(fill.Price),
		OpenTime:  openTime.UTC(),
	}, nil
}

type tradeCloseResponse struct {
	OrderFillTransaction *struct {
		Price string `json:"price"`
		Time  string `json:"time"`
	} `json:"orderFillTransaction"`
}

// CloseOrder closes an open trade at market.
func (c *Client) CloseOrder(ctx context.Context, orderID string) (*CloseResult, error) {
	endpoint := fmt.Sprintf("%s/v3/accounts/%s/trades/%s/close", c.baseURL, c.accountID, orderID)

	var resp tradeCloseResponse
	if err := c.post(ctx, "trade_close", http.MethodPut, endpoint, map[string]string{"units": "ALL"}, &resp); err != nil {
		return nil, fmt.Errorf("closing trade %s: %w", orderID, err)
	}

	if resp.OrderFillTransaction == nil {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Message: "close not filled"}
	}

	closeTime, err := time.Parse(time.RFC3339, resp.OrderFillTransaction.Time)
	if err != nil {
		closeTime = time.Now().UTC()
	}

	return &CloseResult{
		ExitPrice: parsePrice(resp.OrderFillTransaction.Price),
		CloseTime: closeTime.UTC(),
	}, nil
}

// ModifyStop replaces the stop loss on an open trade. Used by trailing.
func (c *Client) ModifyStop(ctx context.Context, orderID string, newStop float64) error {
	endpoint := fmt.Sprintf("%s/v3/accounts/%s/trades/%s/orders", c.baseURL, c.accountID, orderID)

	body := map[string]interface{}{
		"stopLoss": map[string]string{
			"price":       strconv.FormatFloat(newStop, 'f', -1, 64),
			"timeInForce": "GTC",
		},
	}

	if err := c.post(ctx, "stop_modify", http.MethodPut, endpoint, body, nil); err != nil {
		return fmt.Errorf("modifying stop on trade %s: %w", orderID, err)
	}
	return nil
}

// get performs a GET with retry on transient failures.
func (c *Client) get(ctx context.Context, op, endpoint string, out interface{}) error {
	return c.doWithRetry(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		return c.send(req, out)
	})
}

// post performs a POST/PUT with a JSON body and retry on transient failures.
func (c *Client) post(ctx context.Context, op, method, endpoint string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	return c.doWithRetry(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.send(req, out)
	})
}

func (c *Client) send(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// doWithRetry retries transient failures with exponential backoff:
// 1s, 2s, 4s, 8s capped at 30s, five attempts total.
func (c *Client) doWithRetry(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			metrics.BrokerRetries.WithLabelValues(op).Inc()
			log.Warn().Str("operation", op).Int("attempt", attempt).Dur("delay", delay).Err(err).
				Msg("retrying broker call")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		start := time.Now()
		err = call()
		metrics.BrokerRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return err
		}
	}
	return err
}

func backoffDelay(attempt int) time.Duration {
	delay := retryBase << (attempt - 1)
	if delay > retryCap {
		delay = retryCap
	}
	return delay
}

func parsePrice(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func formatPrice(instrument string, price float64) string {
	places := 5
	if PipSize(instrument) == 0.01 {
		places = 3
	}
	return strconv.FormatFloat(price, 'f', places, 64)
}

func formatUnits(instrument string, units float64) string {
	if IsMetal(instrument) {
		return strconv.FormatFloat(units, 'f', 2, 64)
	}
	return strconv.FormatFloat(units, 'f', 0, 64)
}

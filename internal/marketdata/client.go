package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"replaycore/internal/artifact"
)

const candlesPath = "/candles"

// ClientOptions parameterise the REST candle client.
type ClientOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches hourly candles from a REST market-data endpoint.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a candle client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "marketdata_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

type candlePayload struct {
	HourTS string `json:"hour_ts"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// FetchCandles retrieves hourly candles for one symbol over [from, to].
func (c *Client) FetchCandles(ctx context.Context, symbol string, from, to time.Time) ([]artifact.Candle, error) {
	if c.baseURL == "" {
		return nil, errors.New("marketdata base_url required")
	}
	if symbol == "" {
		return nil, errors.New("symbol required")
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", "1h")
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))

	endpoint := c.baseURL + candlesPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payloadBytes)
	}

	var payload []candlePayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, err
	}

	candles := make([]artifact.Candle, 0, len(payload))
	for _, p := range payload {
		candle, err := parseCandle(symbol, p)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandle(symbol string, p candlePayload) (artifact.Candle, error) {
	hour, err := time.Parse(time.RFC3339, p.HourTS)
	if err != nil {
		return artifact.Candle{}, fmt.Errorf("parse candle hour: %w", err)
	}
	c := artifact.Candle{Symbol: symbol, HourTS: hour.UTC()}
	if c.Open, err = decimal.NewFromString(p.Open); err != nil {
		return artifact.Candle{}, fmt.Errorf("parse open: %w", err)
	}
	if c.High, err = decimal.NewFromString(p.High); err != nil {
		return artifact.Candle{}, fmt.Errorf("parse high: %w", err)
	}
	if c.Low, err = decimal.NewFromString(p.Low); err != nil {
		return artifact.Candle{}, fmt.Errorf("parse low: %w", err)
	}
	if c.Close, err = decimal.NewFromString(p.Close); err != nil {
		return artifact.Candle{}, fmt.Errorf("parse close: %w", err)
	}
	if c.Volume, err = decimal.NewFromString(p.Volume); err != nil {
		return artifact.Candle{}, fmt.Errorf("parse volume: %w", err)
	}
	return c, nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("marketdata api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("marketdata api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("marketdata api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("marketdata api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("marketdata api error (%d)", status)
}

var _ CandleSource = (*Client)(nil)

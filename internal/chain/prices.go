package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const pricePath = "/price/"

// PriceFeedOptions parameterise the USD price feed.
type PriceFeedOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Static prices by symbol take precedence over the HTTP endpoint.
	Static map[string]decimal.Decimal
}

// PriceFeed resolves USD reference prices by token symbol.
type PriceFeed struct {
	opts    PriceFeedOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	static  map[string]decimal.Decimal
}

// NewPriceFeed constructs a price feed.
func NewPriceFeed(opts PriceFeedOptions, logger zerolog.Logger) *PriceFeed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	static := make(map[string]decimal.Decimal, len(opts.Static))
	for sym, price := range opts.Static {
		static[strings.ToUpper(sym)] = price
	}

	return &PriceFeed{
		opts:    opts,
		logger:  logger.With().Str("component", "price_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		static:  static,
	}
}

// ParseStaticPrices converts config strings into decimals.
func ParseStaticPrices(raw map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(raw))
	for sym, s := range raw {
		price, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("parse static price %s: %w", sym, err)
		}
		out[sym] = price
	}
	return out, nil
}

// USDPrice returns the USD price of symbol at the block pinned on ctx.
func (p *PriceFeed) USDPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := p.static[strings.ToUpper(symbol)]; ok {
		return price, nil
	}
	if p.baseURL == "" {
		return decimal.Decimal{}, fmt.Errorf("no price source for %s", symbol)
	}

	endpoint := p.baseURL + pricePath + url.PathEscape(symbol)
	if b, ok := BlockFrom(ctx); ok && b.Timestamp > 0 {
		endpoint += "?at=" + strconv.FormatInt(b.Timestamp, 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "cove-indexer/1.0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var res priceResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode price response: %w", err)
	}
	if res.USD == "" {
		return decimal.Decimal{}, errors.New("price response missing usd field")
	}
	price, err := decimal.NewFromString(res.USD)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse usd price: %w", err)
	}
	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative usd price %s for %s", price, symbol)
	}

	p.logger.Debug().Str("symbol", symbol).Str("usd", price.String()).Msg("price fetched")
	return price, nil
}

type priceResponse struct {
	Symbol string `json:"symbol"`
	USD    string `json:"usd"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("price api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("price api error (%d)", status)
}

package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sambacha/julia-auction/pkg/errs"
)

// maxRouterResponseSize bounds the response body an external routing
// service may return, a defensive cap against a misbehaving backend.
const maxRouterResponseSize = 1024 * 1024

// HTTPRuntime calls an external routing service over HTTP with a bounded
// response reader and a short-lived price cache.
type HTTPRuntime struct {
	baseURL string
	client  *http.Client

	cacheTTL time.Duration
	cacheMu  sync.Mutex
	cache    map[string]cachedPrice
}

type cachedPrice struct {
	price     decimal.Decimal
	expiresAt time.Time
}

// NewHTTPRuntime builds a runtime calling baseURL with the given timeout
// and a price cache of cacheTTL (DefaultCacheTTL if zero).
func NewHTTPRuntime(baseURL string, timeout time.Duration, cacheTTL time.Duration) *HTTPRuntime {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &HTTPRuntime{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		cacheTTL: cacheTTL,
		cache:    make(map[string]cachedPrice),
	}
}

type quoteRequest struct {
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
	AmountIn string `json:"amount_in"`
	Slippage string `json:"slippage"`
}

type quoteResponse struct {
	Price       string   `json:"price"`
	AmountOut   string   `json:"amount_out"`
	Path        []string `json:"path"`
	PriceImpact string   `json:"price_impact"`
	GasEstimate uint64   `json:"gas_estimate"`
}

type executionResponse struct {
	Price     string `json:"price"`
	AmountOut string `json:"amount_out"`
	GasUsed   uint64 `json:"gas_used"`
	TxHash    string `json:"tx_hash"`
}

// doJSON posts a JSON body to path and decodes a bounded JSON response.
func (r *HTTPRuntime) doJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.Transient, "router.http_call_failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errs.New(errs.Transient, "router.server_error", fmt.Sprintf("routing service returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return errs.New(errs.InvalidInput, "router.bad_request", fmt.Sprintf("routing service returned %d", resp.StatusCode))
	}

	limited := io.LimitReader(resp.Body, maxRouterResponseSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return err
	}
	if len(data) > maxRouterResponseSize {
		return errs.New(errs.InvalidInput, "router.response_too_large", "routing service response exceeded the size limit")
	}

	return json.Unmarshal(data, out)
}

// Quote implements Bridge.
func (r *HTTPRuntime) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn, slippage decimal.Decimal) (*Route, error) {
	var resp quoteResponse
	err := r.doJSON(ctx, "/quote", quoteRequest{
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		AmountIn: amountIn.String(),
		Slippage: slippage.String(),
	}, &resp)
	if err != nil {
		return nil, err
	}

	price, perr := decimal.NewFromString(resp.Price)
	if perr != nil {
		return nil, errs.Wrap(errs.InvalidInput, "router.bad_price", perr)
	}
	amountOut, aerr := decimal.NewFromString(resp.AmountOut)
	if aerr != nil {
		return nil, errs.Wrap(errs.InvalidInput, "router.bad_amount_out", aerr)
	}
	impact, ierr := decimal.NewFromString(resp.PriceImpact)
	if ierr != nil {
		impact = decimal.Zero
	}

	r.cachePut(tokenIn, tokenOut, price)

	return &Route{
		Price:       price,
		AmountOut:   amountOut,
		Path:        resp.Path,
		PriceImpact: impact,
		GasEstimate: resp.GasEstimate,
	}, nil
}

// Execute implements Bridge.
func (r *HTTPRuntime) Execute(ctx context.Context, tokenIn, tokenOut string, amountIn, slippage decimal.Decimal) (*Execution, error) {
	var resp executionResponse
	err := r.doJSON(ctx, "/execute", quoteRequest{
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		AmountIn: amountIn.String(),
		Slippage: slippage.String(),
	}, &resp)
	if err != nil {
		return nil, err
	}

	price, perr := decimal.NewFromString(resp.Price)
	if perr != nil {
		return nil, errs.Wrap(errs.InvalidInput, "router.bad_price", perr)
	}
	amountOut, aerr := decimal.NewFromString(resp.AmountOut)
	if aerr != nil {
		return nil, errs.Wrap(errs.InvalidInput, "router.bad_amount_out", aerr)
	}

	r.cachePut(tokenIn, tokenOut, price)

	return &Execution{
		Price:     price,
		AmountOut: amountOut,
		GasUsed:   resp.GasUsed,
		TxHash:    resp.TxHash,
	}, nil
}

// SpotPrice implements Bridge, serving from the TTL cache when fresh.
func (r *HTTPRuntime) SpotPrice(ctx context.Context, tokenIn, tokenOut string) (decimal.Decimal, error) {
	if price, ok := r.cacheGet(tokenIn, tokenOut); ok {
		return price, nil
	}

	var resp struct {
		Price string `json:"price"`
	}
	err := r.doJSON(ctx, "/spot", quoteRequest{TokenIn: tokenIn, TokenOut: tokenOut}, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	price, perr := decimal.NewFromString(resp.Price)
	if perr != nil {
		return decimal.Zero, errs.Wrap(errs.InvalidInput, "router.bad_price", perr)
	}
	r.cachePut(tokenIn, tokenOut, price)
	return price, nil
}

func (r *HTTPRuntime) cacheKey(tokenIn, tokenOut string) string {
	return tokenIn + "/" + tokenOut
}

func (r *HTTPRuntime) cacheGet(tokenIn, tokenOut string) (decimal.Decimal, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	entry, ok := r.cache[r.cacheKey(tokenIn, tokenOut)]
	if !ok || time.Now().After(entry.expiresAt) {
		return decimal.Zero, false
	}
	return entry.price, true
}

func (r *HTTPRuntime) cachePut(tokenIn, tokenOut string, price decimal.Decimal) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache[r.cacheKey(tokenIn, tokenOut)] = cachedPrice{price: price, expiresAt: time.Now().Add(r.cacheTTL)}
}

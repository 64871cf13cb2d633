package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"ms-roster/internal/config"
	"ms-roster/internal/logger"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// StatusError is a non-2xx answer from the commerce API.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: commerce API returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Retryable reports server-side and rate-limit failures.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// DecodeError is a 2xx answer whose body could not be parsed. Retrying does not help.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsRetryable separates transient failures (transport errors, 5xx, 429) from permanent ones.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var de *DecodeError
	return !errors.As(err, &de)
}

type OrderQuery struct {
	After     *time.Time
	ProductID string
	Page      int
	PerPage   int
	// Order is "asc" (default) or "desc".
	Order string
}

type ProductQuery struct {
	ModifiedAfter *time.Time
	Page          int
	PerPage       int
}

type OrderPage struct {
	Orders     []Order
	Page       int
	TotalPages int
	Total      int
}

type ProductPage struct {
	Products   []Product
	Page       int
	TotalPages int
	Total      int
}

// Client talks to a WooCommerce-style REST API with consumer key/secret basic auth.
type Client struct {
	baseURL  string
	key      string
	secret   string
	pageSize int
	http     *http.Client
	logger   *logger.Logger
}

func NewClient(cfg config.CommerceConfig, httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		key:      cfg.ConsumerKey,
		secret:   cfg.ConsumerSecret,
		pageSize: pageSize,
		http:     httpClient,
		logger:   log,
	}
}

func (c *Client) PageSize() int {
	return c.pageSize
}

func (c *Client) ListOrders(ctx context.Context, q OrderQuery) (*OrderPage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(max(q.Page, 1)))
	params.Set("per_page", strconv.Itoa(c.perPage(q.PerPage)))
	params.Set("orderby", "date")
	order := q.Order
	if order != "desc" {
		order = "asc"
	}
	params.Set("order", order)
	if q.After != nil {
		params.Set("after", FormatTime(*q.After))
	}
	if q.ProductID != "" {
		params.Set("product", q.ProductID)
	}

	var orders []Order
	hdr, err := c.get(ctx, "list orders", "/orders", params, &orders)
	if err != nil {
		return nil, err
	}
	return &OrderPage{
		Orders:     orders,
		Page:       max(q.Page, 1),
		TotalPages: headerInt(hdr, "X-WP-TotalPages"),
		Total:      headerInt(hdr, "X-WP-Total"),
	}, nil
}

func (c *Client) ListProducts(ctx context.Context, q ProductQuery) (*ProductPage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(max(q.Page, 1)))
	params.Set("per_page", strconv.Itoa(c.perPage(q.PerPage)))
	if q.ModifiedAfter != nil {
		params.Set("modified_after", FormatTime(*q.ModifiedAfter))
	}

	var products []Product
	hdr, err := c.get(ctx, "list products", "/products", params, &products)
	if err != nil {
		return nil, err
	}
	return &ProductPage{
		Products:   products,
		Page:       max(q.Page, 1),
		TotalPages: headerInt(hdr, "X-WP-TotalPages"),
		Total:      headerInt(hdr, "X-WP-Total"),
	}, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	if _, err := c.get(ctx, "get order "+id, "/orders/"+url.PathEscape(id), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) GetProduct(ctx context.Context, id string) (*Product, error) {
	var p Product
	if _, err := c.get(ctx, "get product "+id, "/products/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) perPage(n int) int {
	if n <= 0 || n > 100 {
		return c.pageSize
	}
	return n
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out interface{}) (http.Header, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	c.logger.Debug("COMMERCE", fmt.Sprintf("GET %s", endpoint))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	if c.key != "" {
		req.SetBasicAuth(c.key, c.secret)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("COMMERCE", fmt.Sprintf("%s: %v", op, err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("COMMERCE", fmt.Sprintf("Failed to close response body: %v", err))
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("COMMERCE", fmt.Sprintf("%s returned status %d", op, resp.StatusCode))
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, &DecodeError{Op: op, Err: err}
	}
	return resp.Header, nil
}

func headerInt(h http.Header, key string) int {
	n, err := strconv.Atoi(h.Get(key))
	if err != nil {
		return 0
	}
	return n
}

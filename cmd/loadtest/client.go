package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/backoffice/internal/version"
)

const idempotencyHeader = "Idempotency-Key"

// outcome - итог попытки размещения.
type outcome int

const (
	outcomeFailed outcome = iota
	outcomePlaced
	outcomeRejected
)

type apiClient struct {
	baseURL   string
	http      *http.Client
	userAgent string
}

func newAPIClient(baseURL string, timeout time.Duration, connections int) *apiClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = connections
	transport.MaxIdleConnsPerHost = connections
	return &apiClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout, Transport: transport},
		userAgent: version.UserAgent("loadtest"),
	}
}

type placeOrderItem struct {
	VariantID       int64           `json:"variant_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

type placeOrderRequest struct {
	CustomerID       *int64           `json:"customer_id"`
	CreatedBy        int64            `json:"created_by"`
	OrderTotalAmount decimal.Decimal  `json:"order_total_amount"`
	Items            []placeOrderItem `json:"items"`
}

type apiResponse struct {
	status int
	code   string
	body   []byte
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusCode возвращает метку для отчёта: HTTP-статус и код ошибки, если есть.
func (r apiResponse) statusCode() string {
	if r.code == "" {
		return strconv.Itoa(r.status)
	}
	return strconv.Itoa(r.status) + ":" + r.code
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, headers map[string]string) (apiResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apiResponse{}, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apiResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResponse{}, fmt.Errorf("read response: %w", err)
	}

	result := apiResponse{status: resp.StatusCode, body: data}
	if resp.StatusCode >= http.StatusBadRequest {
		var payload errorPayload
		if json.Unmarshal(data, &payload) == nil {
			result.code = payload.Code
		}
	}
	return result, nil
}

func (c *apiClient) placeOrder(ctx context.Context, req placeOrderRequest, key string) (apiResponse, int64, error) {
	headers := map[string]string{}
	if key != "" {
		headers[idempotencyHeader] = key
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/orders", req, headers)
	if err != nil || resp.status != http.StatusCreated {
		return resp, 0, err
	}

	var created struct {
		Data struct {
			OrderID int64 `json:"order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.body, &created); err != nil {
		return resp, 0, fmt.Errorf("decode place order response: %w", err)
	}
	return resp, created.Data.OrderID, nil
}

func (c *apiClient) getOrder(ctx context.Context, orderID int64) (apiResponse, error) {
	return c.do(ctx, http.MethodGet, "/api/orders/"+strconv.FormatInt(orderID, 10), nil, nil)
}

func (c *apiClient) inventoryQuantity(ctx context.Context, variantID int64) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/inventory/"+strconv.FormatInt(variantID, 10), nil, nil)
	if err != nil {
		return 0, err
	}
	if resp.status != http.StatusOK {
		return 0, fmt.Errorf("get inventory %d: status %s", variantID, resp.statusCode())
	}

	var payload struct {
		Data struct {
			Quantity int `json:"quantity"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return 0, fmt.Errorf("decode inventory response: %w", err)
	}
	return payload.Data.Quantity, nil
}

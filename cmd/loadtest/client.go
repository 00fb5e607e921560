package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const codeTransportError = "transport_error"

// errSoldOut означает отказ сервера из-за нехватки остатка. Для теста конкуренции это ожидаемый исход.
var errSoldOut = errors.New("sold out")

// apiClient реализует минимальный клиент HTTP API заказов.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	col        *collector
}

type apiError struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

type createdOrder struct {
	ID     string `json:"id"`
	Number string `json:"order_number"`
	Status string `json:"status"`
}

func newAPIClient(baseURL string, timeout time.Duration, conns int, col *collector) *apiClient {
	transport := &http.Transport{
		MaxIdleConns:        conns,
		MaxIdleConnsPerHost: conns,
		IdleConnTimeout:     30 * time.Second,
	}
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: transport},
		timeout:    timeout,
		col:        col,
	}
}

func (c *apiClient) createOrder(token, businessID, productID string, qty int32) (createdOrder, error) {
	body := map[string]any{
		"business_id": businessID,
		"items":       []map[string]any{{"product_id": productID, "qty": qty}},
		"shipping_address": map[string]string{
			"line1":   "Load st. 1",
			"city":    "Berlin",
			"country": "DE",
		},
		"payment_method": "card",
	}
	var out createdOrder
	status, err := c.do("CreateOrder", http.MethodPost, "/api/v1/orders", token, body, &out)
	if err != nil {
		return createdOrder{}, err
	}
	if status != http.StatusCreated {
		return createdOrder{}, fmt.Errorf("create order: unexpected status %d", status)
	}
	if out.ID == "" {
		return createdOrder{}, errors.New("create response returned empty order id")
	}
	return out, nil
}

func (c *apiClient) capturePayment(token, orderID string) error {
	_, err := c.do("CapturePayment", http.MethodPost, "/api/v1/orders/"+orderID+"/payment/capture", token, nil, nil)
	return err
}

func (c *apiClient) cancelOrder(token, orderID string) error {
	body := map[string]string{"status": "cancelled", "notes": "load-cancel"}
	_, err := c.do("CancelOrder", http.MethodPatch, "/api/v1/orders/"+orderID+"/status", token, body, nil)
	return err
}

// do выполняет запрос и пишет его в collector. 409 conflict из-за остатка возвращает errSoldOut.
func (c *apiClient) do(method, httpMethod, path, token string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, httpMethod, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.col.record(method, time.Since(start), codeTransportError, false)
		return 0, err
	}
	defer resp.Body.Close()
	raw, readErr := io.ReadAll(resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.col.record(method, time.Since(start), strconv.Itoa(resp.StatusCode), ok)
	if readErr != nil {
		return resp.StatusCode, readErr
	}

	if !ok {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		if resp.StatusCode == http.StatusConflict && apiErr.Error.Kind == "conflict" {
			return resp.StatusCode, fmt.Errorf("%w: %s", errSoldOut, apiErr.Error.Message)
		}
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", httpMethod, path, resp.StatusCode, apiErr.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

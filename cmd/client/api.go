package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"marketplace/internal/models"
)

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{base: base, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

type placeJob struct {
	orderID   int64
	buyerID   int64
	sellerID  int64
	card      string
	warehouse bool
}

func (c *apiClient) placeOrder(ctx context.Context, job placeJob) error {
	body, err := json.Marshal(map[string]any{
		"order_id":  job.orderID,
		"buyer_id":  job.buyerID,
		"seller_id": job.sellerID,
		"amount":    "1499.90",
		"payment": map[string]string{
			"card_number":     job.card,
			"card_password":   "12",
			"expiration_date": "12/30",
			"birth_date":      "900101",
		},
		"receiver_name":     "Load Test",
		"receiver_phone":    "+70000000000",
		"postal_code":       "101000",
		"address":           "Test st 1",
		"warehouse_storage": job.warehouse,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/orders", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		var e struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("order %d: %d %s %s", job.orderID, resp.StatusCode, e.Error.Code, e.Error.Message)
	}
	return nil
}

func (c *apiClient) orderStatus(ctx context.Context, id int64) (models.OrderStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/orders/%d", c.base, id), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("order %d: status %d", id, resp.StatusCode)
	}

	var order models.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return "", err
	}
	return order.Status, nil
}

// waitSettled polls until every order is terminal or ctx ends and returns the
// count per status.
func (c *apiClient) waitSettled(ctx context.Context, jobs []placeJob) map[models.OrderStatus]int {
	for {
		counts := make(map[models.OrderStatus]int)
		settled := true
		for _, job := range jobs {
			status, err := c.orderStatus(ctx, job.orderID)
			if err != nil {
				status = "UNKNOWN"
			}
			if !status.IsTerminal() {
				settled = false
			}
			counts[status]++
		}
		if settled {
			return counts
		}

		select {
		case <-ctx.Done():
			return counts
		case <-time.After(500 * time.Millisecond):
		}
	}
}

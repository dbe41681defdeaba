package shipoxhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/DispatchBox/internal/integrations/gateway"
	"github.com/pkg/errors"
)

const rawLimit = 512

// Таблица кодов провайдера. Неизвестный код — generic failure,
// батч из-за него не падает.
var statusReasons = map[int]string{
	200: "Success",
	202: "Tracking number already used",
	203: "Missing required field",
	205: "Invalid order id",
	206: "Duplicate order id",
	213: "Invalid city",
	215: "Invalid phone number",
	218: "Courier API in maintenance mode",
}

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			// Провайдер бывает медленным; 30s — его же рекомендация.
			// Ретраев нет: для сверки таймаут = отказ по этому заказу.
			Timeout: 30 * time.Second,
		},
	}
}

type parcelReq struct {
	APIKey        string  `json:"api_key"`
	OrderID       uint64  `json:"order_id"`
	TrackNumber   string  `json:"tracking_number,omitempty"`
	RecipientName string  `json:"recipient_name"`
	Phone         string  `json:"phone"`
	City          string  `json:"city"`
	Address       string  `json:"address"`
	Weight        float64 `json:"weight"`
	Description   string  `json:"description"`
	CODAmount     float64 `json:"cod_amount"`
}

type parcelResp struct {
	Status      int    `json:"status"`
	Message     string `json:"message"`
	TrackNumber string `json:"tracking_number"`
}

func (c *Client) SubmitParcel(ctx context.Context, req gateway.ParcelRequest) (gateway.Outcome, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return gateway.Outcome{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/api/v1/parcels"

	body, err := json.Marshal(parcelReq{
		APIKey:        c.apiKey,
		OrderID:       req.OrderID,
		TrackNumber:   req.TrackNumber,
		RecipientName: req.RecipientName,
		Phone:         req.Phone,
		City:          req.City,
		Address:       req.Address,
		Weight:        req.Weight,
		Description:   req.Description,
		CODAmount:     req.CODAmount,
	})
	if err != nil {
		return gateway.Outcome{}, errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return gateway.Outcome{}, errors.Wrap(err, "new request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return gateway.Outcome{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, rawLimit))
	if err != nil {
		return gateway.Outcome{}, errors.Wrap(err, "read body")
	}

	if resp.StatusCode/100 != 2 {
		return gateway.Outcome{}, fmt.Errorf("gateway http %d", resp.StatusCode)
	}

	var r parcelResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return gateway.Outcome{}, errors.Wrap(err, "decode")
	}

	out := gateway.Outcome{
		StatusCode:  r.Status,
		Success:     r.Status == 200,
		TrackNumber: r.TrackNumber,
		Raw:         string(raw),
	}
	out.Message = reasonFor(r.Status, r.Message)
	return out, nil
}

func reasonFor(status int, providerMsg string) string {
	if reason, ok := statusReasons[status]; ok {
		return reason
	}
	if providerMsg != "" {
		return providerMsg
	}
	return fmt.Sprintf("unknown gateway status %d", status)
}

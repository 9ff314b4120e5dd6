package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/models"
)

const FlutterwaveBaseURL = "https://api.flutterwave.com"

type FlutterwaveConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Flutterwave is the primary provider
type Flutterwave struct {
	cfg    FlutterwaveConfig
	client *client
}

func NewFlutterwave(cfg FlutterwaveConfig, l logger.Logger) *Flutterwave {
	if cfg.BaseURL == "" {
		cfg.BaseURL = FlutterwaveBaseURL
	}

	return &Flutterwave{
		cfg:    cfg,
		client: newClient(NameFlutterwave, cfg.BaseURL, cfg.Timeout, bearer(cfg.SecretKey), l),
	}
}

func (f *Flutterwave) Name() string {
	return NameFlutterwave
}

func (f *Flutterwave) Configured() bool {
	return f.cfg.SecretKey != ""
}

type flutterwaveBill struct {
	Country    string      `json:"country"`
	Customer   string      `json:"customer"`
	Amount     json.Number `json:"amount"`
	Recurrence string      `json:"recurrence"`
	Type       string      `json:"type"`
	Reference  string      `json:"reference"`
	BillerName string      `json:"biller_name"`
}

type flutterwaveResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		Status    string `json:"status"`
		FlwRef    string `json:"flw_ref"`
		TxRef     string `json:"tx_ref"`
		Reference string `json:"reference"`
	} `json:"data"`
}

func (f *Flutterwave) AttemptPayment(ctx context.Context, req Request) (Result, error) {
	payload := flutterwaveBill{
		Country:    "NG",
		Customer:   req.AccountNumber,
		Amount:     json.Number(req.Amount.String()),
		Recurrence: "ONCE",
		Type:       strings.ToUpper(string(req.BillType)),
		Reference:  req.Reference,
		BillerName: req.Biller.Flutterwave,
	}

	var resp flutterwaveResponse
	raw, err := f.client.do(ctx, http.MethodPost, "/v3/bills", payload, &resp)
	if err != nil {
		return Result{}, err
	}

	return f.result(resp, req.Reference, raw)
}

func (f *Flutterwave) VerifyPayment(ctx context.Context, reference string) (Result, error) {
	var resp flutterwaveResponse
	raw, err := f.client.do(ctx, http.MethodGet, "/v3/bills/"+url.PathEscape(reference), nil, &resp)
	if err != nil {
		return Result{}, err
	}

	return f.result(resp, reference, raw)
}

// Top level 'status' tells if the call was accepted, data.status tells the bill status
func (f *Flutterwave) result(resp flutterwaveResponse, reference string, raw json.RawMessage) (Result, error) {
	switch resp.Status {
	case "success":
	case "error":
		return declined(resp.Message, raw), nil
	default:
		return Result{}, NewError(NameFlutterwave, CodeBadResponse, 0, fmt.Errorf("unknown response status %q", resp.Status))
	}

	if resp.Data == nil {
		return Result{}, NewError(NameFlutterwave, CodeBadResponse, 0, fmt.Errorf("response has no data"))
	}

	r := Result{
		Success:       true,
		Status:        models.TransactionStatusCompleted,
		TransactionID: resp.Data.FlwRef,
		Reference:     reference,
		Message:       resp.Message,
		Raw:           raw,
	}

	switch strings.ToLower(resp.Data.Status) {
	case "", "success", "successful":
	case "pending":
		r.Status = models.TransactionStatusPending
	case "failed":
		return declined(resp.Message, raw), nil
	default:
		return Result{}, NewError(NameFlutterwave, CodeBadResponse, 0, fmt.Errorf("unknown bill status %q", resp.Data.Status))
	}

	return r, nil
}

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

const BaxiBaseURL = "https://payments.baxipay.com.ng/api/baxipay"

// Service path segment per bill type
var baxiServices = map[models.BillType]string{
	models.BillTypeAirtime:     "airtime",
	models.BillTypeData:        "databundle",
	models.BillTypeElectricity: "electricity",
	models.BillTypeCable:       "multichoice",
	models.BillTypeInternet:    "databundle",
}

type BaxiConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Baxi struct {
	cfg    BaxiConfig
	client *client
}

func NewBaxi(cfg BaxiConfig, l logger.Logger) *Baxi {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaxiBaseURL
	}

	return &Baxi{
		cfg:    cfg,
		client: newClient(NameBaxi, cfg.BaseURL, cfg.Timeout, bearer(cfg.APIKey), l),
	}
}

func (b *Baxi) Name() string {
	return NameBaxi
}

func (b *Baxi) Configured() bool {
	return b.cfg.APIKey != ""
}

type baxiRequest struct {
	AgentReference string      `json:"agentReference"`
	ServiceType    string      `json:"service_type"`
	Amount         json.Number `json:"amount"`
	Phone          string      `json:"phone,omitempty"`
	AccountNumber  string      `json:"account_number,omitempty"`
	Plan           string      `json:"plan,omitempty"`
}

type baxiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		TransactionStatus    string `json:"transactionStatus"`
		TransactionReference string `json:"transactionReference"`
		BaxiReference        string `json:"baxiReference"`
	} `json:"data"`
}

func (b *Baxi) AttemptPayment(ctx context.Context, req Request) (Result, error) {
	service, ok := baxiServices[req.BillType]
	if !ok {
		return declined(fmt.Sprintf("bill type %q is not supported", req.BillType), nil), nil
	}

	payload := baxiRequest{
		AgentReference: req.Reference,
		ServiceType:    req.Biller.Baxi,
		Amount:         json.Number(req.Amount.String()),
	}
	switch req.BillType {
	case models.BillTypeAirtime, models.BillTypeData:
		payload.Phone = req.AccountNumber
		payload.Plan = "prepaid"
	default:
		payload.AccountNumber = req.AccountNumber
	}

	var resp baxiResponse
	raw, err := b.client.do(ctx, http.MethodPost, "/services/"+service+"/request", payload, &resp)
	if err != nil {
		return Result{}, err
	}

	return b.result(resp, req.Reference, raw)
}

func (b *Baxi) VerifyPayment(ctx context.Context, reference string) (Result, error) {
	var resp baxiResponse
	path := "/superagent/transaction/requery?" + url.Values{"agentReference": {reference}}.Encode()
	raw, err := b.client.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return Result{}, err
	}

	return b.result(resp, reference, raw)
}

func (b *Baxi) result(resp baxiResponse, reference string, raw json.RawMessage) (Result, error) {
	switch resp.Status {
	case "success":
	case "error", "failed":
		return declined(resp.Message, raw), nil
	default:
		return Result{}, NewError(NameBaxi, CodeBadResponse, 0, fmt.Errorf("unknown response status %q", resp.Status))
	}

	if resp.Data == nil {
		return Result{}, NewError(NameBaxi, CodeBadResponse, 0, fmt.Errorf("response has no data"))
	}

	r := Result{
		Success:       true,
		Status:        models.TransactionStatusCompleted,
		TransactionID: resp.Data.BaxiReference,
		Reference:     reference,
		Message:       resp.Message,
		Raw:           raw,
	}

	switch strings.ToLower(resp.Data.TransactionStatus) {
	case "success":
	case "pending", "processing":
		r.Status = models.TransactionStatusPending
	case "failed":
		return declined(resp.Message, raw), nil
	default:
		return Result{}, NewError(NameBaxi, CodeBadResponse, 0, fmt.Errorf("unknown transaction status %q", resp.Data.TransactionStatus))
	}

	return r, nil
}

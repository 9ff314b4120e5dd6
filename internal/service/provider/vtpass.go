package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/models"
)

const VTPassBaseURL = "https://vtpass.com"

// VTPass response codes
const (
	vtpassCodeOK         = "000"
	vtpassCodeProcessing = "099"
)

// VTPass wants request id to start with the current date and time in Lagos
var lagos = time.FixedZone("WAT", 60*60)

type VTPassConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

type VTPass struct {
	cfg    VTPassConfig
	client *client

	now func() time.Time
}

func NewVTPass(cfg VTPassConfig, l logger.Logger) *VTPass {
	if cfg.BaseURL == "" {
		cfg.BaseURL = VTPassBaseURL
	}

	return &VTPass{
		cfg: cfg,
		client: newClient(NameVTPass, cfg.BaseURL, cfg.Timeout, func(r *http.Request) {
			r.SetBasicAuth(cfg.Username, cfg.Password)
		}, l),
		now: time.Now,
	}
}

func (v *VTPass) Name() string {
	return NameVTPass
}

func (v *VTPass) Configured() bool {
	return v.cfg.Username != "" && v.cfg.Password != ""
}

type vtpassPay struct {
	RequestID     string      `json:"request_id"`
	ServiceID     string      `json:"serviceID"`
	BillersCode   string      `json:"billersCode"`
	VariationCode string      `json:"variation_code,omitempty"`
	Amount        json.Number `json:"amount"`
	Phone         string      `json:"phone"`
}

type vtpassRequery struct {
	RequestID string `json:"request_id"`
}

type vtpassResponse struct {
	Code                string `json:"code"`
	ResponseDescription string `json:"response_description"`
	RequestID           string `json:"requestId"`
	Content             struct {
		Transactions struct {
			Status        string `json:"status"`
			TransactionID string `json:"transactionId"`
		} `json:"transactions"`
	} `json:"content"`
}

func (v *VTPass) AttemptPayment(ctx context.Context, req Request) (Result, error) {
	requestID := v.now().In(lagos).Format("200601021504") + strings.ReplaceAll(req.Reference, "-", "")

	payload := vtpassPay{
		RequestID:   requestID,
		ServiceID:   req.Biller.VTPass,
		BillersCode: req.AccountNumber,
		Amount:      json.Number(req.Amount.String()),
		Phone:       req.AccountNumber,
	}
	if req.BillType == models.BillTypeElectricity {
		payload.VariationCode = "prepaid"
	}

	var resp vtpassResponse
	raw, err := v.client.do(ctx, http.MethodPost, "/api/pay", payload, &resp)
	if err != nil {
		return Result{}, err
	}

	return v.result(resp, requestID, raw)
}

func (v *VTPass) VerifyPayment(ctx context.Context, reference string) (Result, error) {
	var resp vtpassResponse
	raw, err := v.client.do(ctx, http.MethodPost, "/api/requery", vtpassRequery{RequestID: reference}, &resp)
	if err != nil {
		return Result{}, err
	}

	return v.result(resp, reference, raw)
}

func (v *VTPass) result(resp vtpassResponse, requestID string, raw json.RawMessage) (Result, error) {
	r := Result{
		Success:       true,
		Status:        models.TransactionStatusCompleted,
		TransactionID: resp.Content.Transactions.TransactionID,
		Reference:     requestID,
		Message:       resp.ResponseDescription,
		Raw:           raw,
	}

	switch resp.Code {
	case vtpassCodeOK:
	case vtpassCodeProcessing:
		r.Status = models.TransactionStatusPending
		return r, nil
	case "":
		return Result{}, NewError(NameVTPass, CodeBadResponse, 0, fmt.Errorf("response has no code"))
	default:
		return declined(resp.ResponseDescription, raw), nil
	}

	switch strings.ToLower(resp.Content.Transactions.Status) {
	case "delivered":
	case "pending", "initiated":
		r.Status = models.TransactionStatusPending
	case "failed", "reversed":
		return declined(resp.ResponseDescription, raw), nil
	default:
		return Result{}, NewError(NameVTPass, CodeBadResponse, 0, fmt.Errorf("unknown transaction status %q", resp.Content.Transactions.Status))
	}

	return r, nil
}

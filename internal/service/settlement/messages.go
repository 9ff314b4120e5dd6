package settlement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/models"
	"github.com/nkiryanov/billpay/internal/service/provider"
)

const notificationType = "bill_payment"

var notificationChannels = []string{models.ChannelInApp, models.ChannelPush}

// errorMessage is what the user sees in the result
func errorMessage(err error) string {
	var (
		policyErr     *apperrors.PolicyError
		validationErr *apperrors.ValidationError
	)

	switch {
	case errors.As(err, &policyErr):
		return policyErr.Reason
	case errors.As(err, &validationErr):
		return validationErr.Error()
	case errors.Is(err, apperrors.ErrProviderUnavailable):
		return "All payment providers failed. Please try again later"
	case errors.Is(err, apperrors.ErrDuplicateRequest):
		return "A request with the same idempotency key is in progress"
	case errors.Is(err, apperrors.ErrWalletNotFound):
		return "Wallet not found"
	case errors.Is(err, apperrors.ErrInsufficientBalance):
		return "Insufficient wallet balance"
	default:
		return "Bill payment failed due to an internal error"
	}
}

func billNotification(tx models.Transaction, p models.BillPayment, biller provider.Biller) models.Notification {
	title := "Bill Payment Successful"
	message := fmt.Sprintf("Your %s payment of %s %s to %s was successful", p.BillType, tx.Currency, tx.Amount.StringFixed(2), biller.Name)
	if tx.Status == models.TransactionStatusPending {
		title = "Bill Payment Processing"
		message = fmt.Sprintf("Your %s payment of %s %s to %s is being processed", p.BillType, tx.Currency, tx.Amount.StringFixed(2), biller.Name)
	}

	return models.Notification{
		UserID:  tx.UserID,
		Type:    notificationType,
		Title:   title,
		Message: message,
		Data: map[string]any{
			"transactionId": tx.ID.String(),
			"reference":     tx.Reference,
			"amount":        tx.Amount.StringFixed(2),
			"currency":      tx.Currency,
			"billType":      string(p.BillType),
			"provider":      biller.Name,
			"accountNumber": p.AccountNumber,
			"status":        string(tx.Status),
		},
		Channels: notificationChannels,
	}
}

func settledNotification(tx models.Transaction) models.Notification {
	title := "Bill Payment Successful"
	outcome := "was successful"
	if tx.Status == models.TransactionStatusFailed {
		title = "Bill Payment Failed"
		outcome = "has failed, your wallet was not charged"
	}

	return models.Notification{
		UserID:  tx.UserID,
		Type:    notificationType,
		Title:   title,
		Message: strings.Join([]string{"Your bill payment of", tx.Currency, tx.Amount.StringFixed(2), outcome}, " "),
		Data: map[string]any{
			"transactionId": tx.ID.String(),
			"reference":     tx.Reference,
			"amount":        tx.Amount.StringFixed(2),
			"currency":      tx.Currency,
			"status":        string(tx.Status),
		},
		Channels: notificationChannels,
	}
}

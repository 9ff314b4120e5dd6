package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/models"
)

const (
	phoneMinDigits   = 11
	phoneMaxDigits   = 13
	accountMinDigits = 6
	accountMaxDigits = 20
)

var std = New()

// New returns validator that reports fields by json names and knows bill payments
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Return on 'TagName' json tag instead of struct name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		// skip if tag key says it should be ignored
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(billPaymentLevel, models.BillPayment{})

	return v
}

// Account number shape depends on bill type, so it is checked on struct level
func billPaymentLevel(sl validator.StructLevel) {
	p := sl.Current().Interface().(models.BillPayment)
	if p.AccountNumber == "" {
		return // 'required' reports it
	}

	if err := AccountNumber(p.BillType, p.AccountNumber); err != nil {
		sl.ReportError(p.AccountNumber, "accountNumber", "AccountNumber", "account", string(p.BillType))
	}
}

// BillPayment validates request fields and amount
// Returns *apperrors.ValidationError listing every rejected field
func BillPayment(p models.BillPayment, minAmount decimal.Decimal) error {
	fields := make(map[string]string)

	err := std.Struct(p)
	if err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			return fmt.Errorf("bill payment validation: %w", err)
		}
		for _, fe := range errs {
			fields[fe.Field()] = message(fe)
		}
	}

	switch {
	case !p.Amount.IsPositive():
		fields["amount"] = "Amount must be positive"
	case p.Amount.LessThan(minAmount):
		fields["amount"] = fmt.Sprintf("Minimum amount is %s", minAmount.StringFixed(2))
	case !p.Amount.Equal(p.Amount.Round(2)):
		// Money columns keep kobo, finer amounts would be rounded by the database
		fields["amount"] = "Amount must have at most 2 decimal places"
	}

	if len(fields) > 0 {
		return &apperrors.ValidationError{Fields: fields}
	}
	return nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Value is too short (minimum %s)", fe.Param())
	case "max":
		return fmt.Sprintf("Value is too long (maximum %s)", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "uuid":
		return "Must be a valid UUID"
	case "account":
		switch models.BillType(fe.Param()) {
		case models.BillTypeAirtime, models.BillTypeData:
			return fmt.Sprintf("Phone number must have %d to %d digits", phoneMinDigits, phoneMaxDigits)
		default:
			return fmt.Sprintf("Account number must have %d to %d digits", accountMinDigits, accountMaxDigits)
		}
	default:
		return "Invalid value"
	}
}

// AccountNumber checks customer account shape for the bill type
// Airtime and data are paid to a phone number, the rest to a meter, smartcard or account number
func AccountNumber(billType models.BillType, number string) error {
	switch billType {
	case models.BillTypeAirtime, models.BillTypeData:
		return PhoneNumber(number)
	default:
		return digits(number, accountMinDigits, accountMaxDigits)
	}
}

// PhoneNumber accepts local (08012345678) and international (+2348012345678) formats
func PhoneNumber(number string) error {
	return digits(strings.TrimPrefix(number, "+"), phoneMinDigits, phoneMaxDigits)
}

func digits(number string, minLen, maxLen int) error {
	// It's ok to work with string as bytes here
	for i := 0; i < len(number); i++ {
		if number[i] < '0' || number[i] > '9' {
			return errors.New("number contains invalid characters")
		}
	}

	if len(number) < minLen || len(number) > maxLen {
		return fmt.Errorf("number must have %d to %d digits", minLen, maxLen)
	}

	return nil
}

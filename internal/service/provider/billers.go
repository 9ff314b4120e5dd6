package provider

import (
	"fmt"
	"strings"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/metrics"
	"github.com/nkiryanov/billpay/internal/models"
)

// Biller holds provider specific codes of one biller
type Biller struct {
	Name        string
	Flutterwave string // biller_name
	VTPass      string // serviceID
	Baxi        string // service_type
}

var billers = map[models.BillType][]Biller{
	models.BillTypeAirtime: {
		{Name: "MTN", Flutterwave: "MTN VTU", VTPass: "mtn", Baxi: "mtn"},
		{Name: "Glo", Flutterwave: "GLO VTU", VTPass: "glo", Baxi: "glo"},
		{Name: "Airtel", Flutterwave: "AIRTEL VTU", VTPass: "airtel", Baxi: "airtel"},
		{Name: "9mobile", Flutterwave: "9MOBILE VTU", VTPass: "etisalat", Baxi: "9mobile"},
	},
	models.BillTypeData: {
		{Name: "MTN", Flutterwave: "MTN DATA BUNDLE", VTPass: "mtn-data", Baxi: "mtn"},
		{Name: "Glo", Flutterwave: "GLO DATA BUNDLE", VTPass: "glo-data", Baxi: "glo"},
		{Name: "Airtel", Flutterwave: "AIRTEL DATA BUNDLE", VTPass: "airtel-data", Baxi: "airtel"},
		{Name: "9mobile", Flutterwave: "9MOBILE DATA BUNDLE", VTPass: "etisalat-data", Baxi: "9mobile"},
	},
	models.BillTypeElectricity: {
		{Name: "Eko Electricity", Flutterwave: "EKEDC PREPAID TOPUP", VTPass: "eko-electric", Baxi: "eko_electric_prepaid"},
		{Name: "Ikeja Electric", Flutterwave: "IKEDC PREPAID", VTPass: "ikeja-electric", Baxi: "ikeja_electric_prepaid"},
		{Name: "Abuja Electricity", Flutterwave: "AEDC PREPAID", VTPass: "abuja-electric", Baxi: "abuja_electric_prepaid"},
		{Name: "Ibadan Electricity", Flutterwave: "IBEDC PREPAID", VTPass: "ibadan-electric", Baxi: "ibadan_electric_prepaid"},
		{Name: "Port Harcourt Electric", Flutterwave: "PHED PREPAID", VTPass: "portharcourt-electric", Baxi: "portharcourt_electric_prepaid"},
	},
	models.BillTypeCable: {
		{Name: "DStv", Flutterwave: "DSTV", VTPass: "dstv", Baxi: "dstv"},
		{Name: "GOtv", Flutterwave: "GOTV", VTPass: "gotv", Baxi: "gotv"},
		{Name: "StarTimes", Flutterwave: "STARTIMES", VTPass: "startimes", Baxi: "startimes"},
	},
	models.BillTypeInternet: {
		{Name: "Smile", Flutterwave: "SMILE BUNDLE", VTPass: "smile-direct", Baxi: "smile"},
		{Name: "Spectranet", Flutterwave: "SPECTRANET", VTPass: "spectranet", Baxi: "spectranet"},
	},
}

// First biller of every type is its default
func defaultBiller(billType models.BillType) (Biller, bool) {
	list, ok := billers[billType]
	if !ok || len(list) == 0 {
		return Biller{}, false
	}
	return list[0], true
}

// Catalog maps user facing biller names to provider codes
type Catalog struct {
	// Reject unknown billers instead of using the bill type default
	Strict bool

	logger  logger.Logger
	metrics *metrics.Metrics
}

func NewCatalog(strict bool, l logger.Logger, m *metrics.Metrics) *Catalog {
	return &Catalog{
		Strict:  strict,
		logger:  l,
		metrics: m,
	}
}

// Resolve biller by name, case and spaces don't matter
// Unknown names fall back to the bill type default unless catalog is strict
func (c *Catalog) Resolve(billType models.BillType, name string) (Biller, error) {
	key := normalize(name)
	for _, b := range billers[billType] {
		if normalize(b.Name) == key {
			return b, nil
		}
	}

	fallback, ok := defaultBiller(billType)
	if !ok {
		return Biller{}, apperrors.NewValidationError("billType", fmt.Sprintf("Unsupported bill type %q", billType))
	}

	if c.Strict {
		return Biller{}, apperrors.NewValidationError("provider", fmt.Sprintf("Unsupported %s provider %q", billType, name))
	}

	c.logger.Warn("Unknown biller, using default", "bill_type", billType, "provider", name, "default", fallback.Name)
	c.metrics.BillerFallback(string(billType))

	return fallback, nil
}

func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

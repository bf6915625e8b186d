package broker

import (
	"math"
	"strings"
)

// PipSize returns the conventional pip for an instrument: 0.0001 for most
// FX pairs, 0.01 for JPY crosses and metals.
func PipSize(instrument string) float64 {
	if strings.Contains(instrument, "JPY") || IsMetal(instrument) {
		return 0.01
	}
	return 0.0001
}

// IsMetal reports whether the instrument is a bullion pair (XAU, XAG, ...).
func IsMetal(instrument string) bool {
	return strings.HasPrefix(instrument, "XAU_") ||
		strings.HasPrefix(instrument, "XAG_") ||
		strings.HasPrefix(instrument, "XPT_") ||
		strings.HasPrefix(instrument, "XPD_")
}

// PipValue returns the account-currency value of one pip for one unit at
// the given price. For USD-quoted pairs this is simply the pip size; for
// USD-base pairs the quote pip is converted back through the price.
func PipValue(instrument string, price float64) float64 {
	pip := PipSize(instrument)
	if price <= 0 {
		return pip
	}
	quote := quoteCurrency(instrument)
	if quote == "USD" || quote == "" {
		return pip
	}
	// Quote currency is not the account currency: one pip of quote is
	// worth pip/price in base terms, approximated into USD via price.
	return pip / price
}

// UnitsToPips converts an absolute price distance to pips.
func UnitsToPips(instrument string, distance float64) float64 {
	pip := PipSize(instrument)
	if pip == 0 {
		return 0
	}
	return math.Abs(distance) / pip
}

// MinUnits is the smallest tradable size per instrument class.
func MinUnits(instrument string) float64 {
	if IsMetal(instrument) {
		return 0.01
	}
	return 1
}

// RoundPrice clamps a price to the instrument's quote precision so stop
// and target levels survive a round trip through the broker API.
func RoundPrice(instrument string, price float64) float64 {
	var places float64 = 5
	if PipSize(instrument) == 0.01 {
		places = 3
	}
	scale := math.Pow(10, places)
	return math.Round(price*scale) / scale
}

func quoteCurrency(instrument string) string {
	parts := strings.Split(instrument, "_")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

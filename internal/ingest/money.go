package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

var currencyStripper = strings.NewReplacer("$", "", ",", "", "USD", "", "usd", "", " ", "")

// ParseMoney converts an amount in any of the shapes sources and models produce into
// whole currency units. The literal "none", negatives and non-numeric input yield nil.
// Fractions are truncated toward zero.
func ParseMoney(v any) *int64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case float64:
		f = x
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" || strings.EqualFold(s, "none") {
			return nil
		}
		parsed, err := strconv.ParseFloat(currencyStripper.Replace(s), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxInt64 {
		return nil
	}
	n := int64(math.Trunc(f))
	return &n
}

package dataset

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
)

// parseNumber converts a cell to float64. Monetary values go through decimal
// so that strings like "181.00" or "1.5E+5" parse the same way in every
// source.
func parseNumber(column string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, errors.NewValueError("parse "+column, "missing value")
	case json.Number:
		return parseDecimal(column, string(x))
	case string:
		return parseDecimal(column, x)
	case float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, errors.NewValueError("parse "+column, fmt.Sprintf("unsupported numeric value %T", v))
	}
}

func parseDecimal(column, s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.NewValueError("parse "+column, fmt.Sprintf("invalid number %q", s))
	}
	return d.InexactFloat64(), nil
}

// formatCell renders a non-numeric cell as a string.
func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// looksNumeric reports whether s parses as a decimal number.
func looksNumeric(s string) bool {
	_, err := decimal.NewFromString(strings.TrimSpace(s))
	return err == nil
}

// kindOf returns the schema kind for a known column, or infers it from a
// sample value.
func kindOf(name string, sample interface{}) ColumnKind {
	for _, col := range PaySimSchema {
		if col.Name == name {
			return col.Kind
		}
	}
	switch x := sample.(type) {
	case json.Number, float64, bool:
		return Numeric
	case string:
		if looksNumeric(x) {
			return Numeric
		}
	}
	return String
}

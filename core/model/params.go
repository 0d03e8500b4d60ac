package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
)

// ハイパーパラメータは設定ファイル（JSON）やコードから渡されるため、
// 数値は int / int64 / float64 / json.Number のいずれでも受け付ける。

// IntParam はパラメータ値を int に変換する。整数でない数値はエラー。
func IntParam(name string, value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.NewValidationError(name, "must be an integer", value)
		}
		return int(v), nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, errors.NewValidationError(name, "must be an integer", value)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, errors.NewValidationError(name, "must be an integer", value)
		}
		return i, nil
	default:
		return 0, errors.NewValidationError(name, fmt.Sprintf("unsupported type %T", value), value)
	}
}

// FloatParam はパラメータ値を float64 に変換する
func FloatParam(name string, value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, errors.NewValidationError(name, "must be a number", value)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, errors.NewValidationError(name, "must be a number", value)
		}
		return f, nil
	default:
		return 0, errors.NewValidationError(name, fmt.Sprintf("unsupported type %T", value), value)
	}
}

// StringParam はパラメータ値を string に変換する。nil は "none" として扱う。
func StringParam(name string, value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "none", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", errors.NewValidationError(name, fmt.Sprintf("must be a string, got %T", value), value)
	}
}

// BoolParam はパラメータ値を bool に変換する
func BoolParam(name string, value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, errors.NewValidationError(name, "must be a boolean", value)
		}
		return b, nil
	default:
		return false, errors.NewValidationError(name, fmt.Sprintf("must be a boolean, got %T", value), value)
	}
}

// FormatParam はパラメータ値をトラッキング用の文字列に変換する
//
// 整数値の float64 は小数点なしで出力する（JSON 由来の 100.0 を "100" にする）。
func FormatParam(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "None"
	case string:
		return v
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(v)
	}
}

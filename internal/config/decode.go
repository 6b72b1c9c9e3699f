package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
)

var (
	decimalType     = reflect.TypeOf(decimal.Decimal{})
	nullDecimalType = reflect.TypeOf(decimal.NullDecimal{})
)

// stringToDecimalHookFunc decodes strings and numbers into decimal.Decimal and
// decimal.NullDecimal. An empty string yields an invalid NullDecimal.
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType && to != nullDecimalType {
			return data, nil
		}

		var (
			d   decimal.Decimal
			err error
		)
		switch v := data.(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				if to == nullDecimalType {
					return decimal.NullDecimal{}, nil
				}
				return decimal.Zero, nil
			}
			d, err = decimal.NewFromString(s)
		case float64:
			d = decimal.NewFromFloat(v)
		case float32:
			d = decimal.NewFromFloat32(v)
		case int:
			d = decimal.NewFromInt(int64(v))
		case int64:
			d = decimal.NewFromInt(v)
		case decimal.Decimal:
			d = v
		case decimal.NullDecimal:
			return v, nil
		case nil:
			if to == nullDecimalType {
				return decimal.NullDecimal{}, nil
			}
			return decimal.Zero, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into decimal", data)
		}
		if err != nil {
			return nil, fmt.Errorf("parse decimal %v: %w", data, err)
		}
		if to == nullDecimalType {
			return decimal.NullDecimal{Decimal: d, Valid: true}, nil
		}
		return d, nil
	}
}

package utils

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

// ConvertToInt64 coerces the numeric shapes an ordering key can arrive in.
func ConvertToInt64(val interface{}) (int64, error) {
	switch v := val.(type) {
	case nil:
		return 0, fmt.Errorf("cannot convert nil to int64")
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to int64: %w", v.String(), err)
		}
		return int64(f), nil
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		// Date strings sort the same way their epoch millis do.
		if t, err := ConvertDateTime(s); err == nil {
			return t.UnixMilli(), nil
		}
		return cast.ToInt64E(s)
	case []byte:
		return ConvertToInt64(string(v))
	case time.Time:
		return v.UnixMilli(), nil
	default:
		return cast.ToInt64E(val)
	}
}

// OrderingKey reads field from a raw JSON document. Dotted paths address
// nested objects.
func OrderingKey(source []byte, field string) (int64, error) {
	res := gjson.GetBytes(source, field)
	if !res.Exists() {
		return 0, fmt.Errorf("field %q not present", field)
	}
	switch res.Type {
	case gjson.Number:
		if i, err := strconv.ParseInt(res.Raw, 10, 64); err == nil {
			return i, nil
		}
		return ConvertToInt64(res.Float())
	case gjson.String:
		return ConvertToInt64(res.Str)
	default:
		return 0, fmt.Errorf("field %q has non-numeric value %s", field, res.Raw)
	}
}

func ConvertDateTime(v string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse datetime: %s", v)
}

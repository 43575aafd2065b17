package tools

import (
	"fmt"
	"strconv"
	"time"
)

// JSON numbers decode as float64; clients also send ids as strings.
func int64Param(params map[string]interface{}, key string) (int64, bool, error) {
	switch v := params[key].(type) {
	case nil:
		return 0, false, nil
	case float64:
		return int64(v), true, nil
	case string:
		if v == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("invalid %s: unexpected type %T", key, v)
	}
}

func requiredInt64(params map[string]interface{}, key string) (int64, error) {
	n, ok, err := int64Param(params, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	return n, nil
}

func intParam(params map[string]interface{}, key string) (int, error) {
	n, _, err := int64Param(params, key)
	return int(n), err
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func timeParam(params map[string]interface{}, key string) (*time.Time, error) {
	s := stringParam(params, key)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return &t, nil
}

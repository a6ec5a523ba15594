package bus

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Parameter lookup errors. Both are wrapped with the parameter name.
var (
	ErrMissingParam = errors.New("bus: missing parameter")
	ErrInvalidParam = errors.New("bus: invalid parameter")
)

// Has reports whether the command carries a non-null parameter key.
func (c Command) Has(key string) bool {
	v, ok := c.Params[key]
	return ok && v != nil
}

// String returns the string parameter key.
func (c Command) String(key string) (string, error) {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s: want string, got %T", ErrInvalidParam, key, v)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	return s, nil
}

// ID returns the platform id parameter key as a decimal string. Ids may be
// sent as strings or as integers.
func (c Command) ID(key string) (string, error) {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	switch x := v.(type) {
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
		}
		return x, nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	}
	n, ok := toInt64(v)
	if !ok || n < 0 {
		return "", fmt.Errorf("%w: %s: not an id: %v", ErrInvalidParam, key, v)
	}
	return strconv.FormatInt(n, 10), nil
}

// Int returns the integer parameter key, or def if it is absent.
func (c Command) Int(key string, def int) (int, error) {
	n, err := c.Int64(key, int64(def))
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, fmt.Errorf("%w: %s: out of range: %d", ErrInvalidParam, key, n)
	}
	return int(n), nil
}

// Int64 returns the integer parameter key, or def if it is absent.
// Numeric strings are accepted.
func (c Command) Int64(key string, def int64) (int64, error) {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return def, nil
	}
	if s, ok := v.(string); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidParam, key, err)
		}
		return n, nil
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s: want integer, got %T", ErrInvalidParam, key, v)
	}
	return n, nil
}

// Objects returns the list-of-objects parameter key. An absent key yields a
// nil slice.
func (c Command) Objects(key string) ([]map[string]any, error) {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: want list, got %T", ErrInvalidParam, key, v)
	}
	out := make([]map[string]any, 0, len(list))
	for i, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d]: want object, got %T", ErrInvalidParam, key, i, e)
		}
		out = append(out, m)
	}
	return out, nil
}

// Alias returns the first of keys the command carries, or keys[0] when it
// carries none. It resolves parameters that accept alternative names.
func (c Command) Alias(keys ...string) string {
	for _, k := range keys {
		if c.Has(k) {
			return k
		}
	}
	return keys[0]
}

// toInt64 converts the integer kinds produced by the JSON and CBOR decoders.
func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), x <= math.MaxInt64
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), x <= math.MaxInt64
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || x > math.MaxInt64 || x < math.MinInt64 {
			return 0, false
		}
		return int64(x), true
	case float32:
		return toInt64(float64(x))
	default:
		return 0, false
	}
}

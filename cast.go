package protomodel

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// castFunc converts a local value into a message value of one scalar kind.
type castFunc func(v any) (protoreflect.Value, error)

// kindCasts is the type table used when type casting is enabled. It is keyed
// by the message field kind; wrapper types use the kind of their inner value.
var kindCasts = map[protoreflect.Kind]castFunc{
	protoreflect.DoubleKind: func(v any) (protoreflect.Value, error) {
		f, err := toFloat64(v)
		return protoreflect.ValueOfFloat64(f), err
	},
	protoreflect.FloatKind: func(v any) (protoreflect.Value, error) {
		f, err := toFloat64(v)
		return protoreflect.ValueOfFloat32(float32(f)), err
	},
	protoreflect.Int64Kind:    castInt64,
	protoreflect.Sint64Kind:   castInt64,
	protoreflect.Sfixed64Kind: castInt64,
	protoreflect.Uint64Kind:   castUint64,
	protoreflect.Fixed64Kind:  castUint64,
	protoreflect.Int32Kind:    castInt32,
	protoreflect.Sint32Kind:   castInt32,
	protoreflect.Sfixed32Kind: castInt32,
	protoreflect.Uint32Kind:   castUint32,
	protoreflect.Fixed32Kind:  castUint32,
	protoreflect.BoolKind: func(v any) (protoreflect.Value, error) {
		return protoreflect.ValueOfBool(truthy(v)), nil
	},
	protoreflect.StringKind: func(v any) (protoreflect.Value, error) {
		s, err := toString(v)
		return protoreflect.ValueOfString(s), err
	},
	protoreflect.BytesKind: func(v any) (protoreflect.Value, error) {
		b, err := toBytes(v)
		return protoreflect.ValueOfBytes(b), err
	},
	protoreflect.EnumKind: func(v any) (protoreflect.Value, error) {
		n, err := toInt64(v)
		if err != nil {
			return protoreflect.Value{}, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return protoreflect.Value{}, fmt.Errorf("enum value %d out of range", n)
		}
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(n)), nil
	},
}

func castInt64(v any) (protoreflect.Value, error) {
	n, err := toInt64(v)
	return protoreflect.ValueOfInt64(n), err
}

func castInt32(v any) (protoreflect.Value, error) {
	n, err := toInt64(v)
	if err != nil {
		return protoreflect.Value{}, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return protoreflect.Value{}, fmt.Errorf("value %d out of range for int32", n)
	}
	return protoreflect.ValueOfInt32(int32(n)), nil
}

func castUint64(v any) (protoreflect.Value, error) {
	n, err := toUint64(v)
	return protoreflect.ValueOfUint64(n), err
}

func castUint32(v any) (protoreflect.Value, error) {
	n, err := toUint64(v)
	if err != nil {
		return protoreflect.Value{}, err
	}
	if n > math.MaxUint32 {
		return protoreflect.Value{}, fmt.Errorf("value %d out of range for uint32", n)
	}
	return protoreflect.ValueOfUint32(uint32(n)), nil
}

// castValue converts v for a field of the given kind. With cast disabled
// only values of the same family are accepted (any integer for integer
// kinds, any number for float kinds, exact types otherwise).
func castValue(kind protoreflect.Kind, v any, cast bool) (protoreflect.Value, error) {
	if cast {
		fn, ok := kindCasts[kind]
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("no cast for kind %v", kind)
		}
		return fn(v)
	}
	return assignValue(kind, v)
}

func assignValue(kind protoreflect.Kind, v any) (protoreflect.Value, error) {
	switch kind {
	case protoreflect.BoolKind:
		if b, ok := v.(bool); ok {
			return protoreflect.ValueOfBool(b), nil
		}
		return protoreflect.Value{}, typeMismatch(v, "bool")
	case protoreflect.StringKind:
		if s, ok := v.(string); ok {
			return protoreflect.ValueOfString(s), nil
		}
		return protoreflect.Value{}, typeMismatch(v, "string")
	case protoreflect.BytesKind:
		if b, ok := v.([]byte); ok {
			return protoreflect.ValueOfBytes(b), nil
		}
		return protoreflect.Value{}, typeMismatch(v, "bytes")
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		if !isNumber(v) {
			return protoreflect.Value{}, typeMismatch(v, "float, int")
		}
	default:
		if !isInteger(v) {
			return protoreflect.Value{}, typeMismatch(v, "int")
		}
	}
	return kindCasts[kind](v)
}

func typeMismatch(v any, expected string) error {
	return fmt.Errorf("type %T, but expected one of: %s", v, expected)
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, protoreflect.EnumNumber:
		return true
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return isInteger(v)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case protoreflect.EnumNumber:
		return int64(n), nil
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid literal for int: %q", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("cannot convert %T to int", v)
}

// floatToInt64 truncates f toward zero. NaN, infinities and values outside
// the int64 range have no integer form.
func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("cannot convert float %v to int", f)
	}
	// -2^63 is exact as a float64; 2^63 is the first value out of range.
	if f < math.MinInt64 || f >= -math.MinInt64 {
		return 0, fmt.Errorf("value %v overflows int64", f)
	}
	return int64(f), nil
}

// toInteger is toInt64 except that uint64 values above MaxInt64 are kept as
// uint64, so unsigned 64-bit message fields keep their full range.
func toInteger(v any) (any, error) {
	if u, ok := v.(uint64); ok && u > math.MaxInt64 {
		return u, nil
	}
	return toInt64(v)
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case string:
		u, err := strconv.ParseUint(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid literal for unsigned int: %q", n)
		}
		return u, nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("value %d is negative", i)
	}
	return uint64(i), nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("could not convert string to float: %s", n)
		}
		return f, nil
	case uint64:
		return float64(n), nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
	return float64(i), nil
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	case bool:
		return strconv.FormatBool(s), nil
	case float32:
		return strconv.FormatFloat(float64(s), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64), nil
	}
	if isInteger(v) {
		if u, ok := v.(uint64); ok {
			return strconv.FormatUint(u, 10), nil
		}
		i, err := toInt64(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(i, 10), nil
	}
	return "", fmt.Errorf("cannot convert %T to string", v)
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("cannot convert %T to bytes", v)
}

// truthy mirrors the loose boolean cast applied to outgoing values.
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b != ""
	case []byte:
		return len(b) > 0
	case float32:
		return b != 0
	case float64:
		return b != 0
	}
	if n, err := toInt64(v); err == nil {
		return n != 0
	}
	return v != nil
}

// parseBool is the strict coercion applied to incoming values of boolean
// local fields.
func parseBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "t", "true", "1":
			return true, nil
		case "f", "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%q value must be either true or false", b)
	}
	if n, err := toInt64(v); err == nil {
		switch n {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	}
	return nil, fmt.Errorf("%v value must be either true or false", v)
}

package plc

import (
	"math"
	"reflect"

	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
)

type intRange struct {
	min int64
	max uint64
}

var integerRanges = map[ua.TypeID]intRange{
	ua.TypeIDSByte:  {math.MinInt8, math.MaxInt8},
	ua.TypeIDByte:   {0, math.MaxUint8},
	ua.TypeIDInt16:  {math.MinInt16, math.MaxInt16},
	ua.TypeIDUint16: {0, math.MaxUint16},
	ua.TypeIDInt32:  {math.MinInt32, math.MaxInt32},
	ua.TypeIDUint32: {0, math.MaxUint32},
	ua.TypeIDInt64:  {math.MinInt64, math.MaxInt64},
	ua.TypeIDUint64: {0, math.MaxUint64},
}

// Coerce converts value to the Go type that matches the declared OPC UA data
// type. A nil value stays nil (written as a null variant). Values that would
// change on conversion (overflow, fractional part, integers a float can not
// hold exactly, bool <-> number) are rejected with ErrTypeMismatch. A
// float64 written to a Float node is narrowed to float32 precision.
func Coerce(value any, typeID ua.TypeID) (any, error) {
	if value == nil {
		return nil, nil
	}

	if r, ok := integerRanges[typeID]; ok {
		return coerceInteger(value, typeID, r)
	}

	switch typeID {
	case ua.TypeIDBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}

	case ua.TypeIDString:
		if s, ok := value.(string); ok {
			return s, nil
		}

	case ua.TypeIDFloat:
		f, ok := toFloat(value)
		if ok && integerExact(value, true) && (math.Abs(f) <= math.MaxFloat32 || math.IsInf(f, 0) || math.IsNaN(f)) {
			return float32(f), nil
		}

	case ua.TypeIDDouble:
		if f, ok := toFloat(value); ok && integerExact(value, false) {
			return f, nil
		}

	default:
		return nil, errors.Wrapf(ErrTypeMismatch, "unsupported declared type %v", typeID)
	}

	return nil, mismatch(value, typeID)
}

func coerceInteger(value any, typeID ua.TypeID, r intRange) (any, error) {
	var (
		i        int64
		u        uint64
		unsigned bool
	)

	switch v := value.(type) {
	case int:
		i = int64(v)
	case int8:
		i = int64(v)
	case int16:
		i = int64(v)
	case int32:
		i = int64(v)
	case int64:
		i = v
	case uint:
		u, unsigned = uint64(v), true
	case uint8:
		u, unsigned = uint64(v), true
	case uint16:
		u, unsigned = uint64(v), true
	case uint32:
		u, unsigned = uint64(v), true
	case uint64:
		u, unsigned = v, true
	case float32, float64:
		f, _ := toFloat(v)
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, mismatch(value, typeID)
		}
		if f < 0 {
			if f < math.MinInt64 {
				return nil, mismatch(value, typeID)
			}
			i = int64(f)
		} else {
			if f >= math.MaxUint64 {
				return nil, mismatch(value, typeID)
			}
			u, unsigned = uint64(f), true
		}
	default:
		return nil, mismatch(value, typeID)
	}

	if unsigned && u > r.max {
		return nil, mismatch(value, typeID)
	}
	if !unsigned && (i < r.min || (i > 0 && uint64(i) > r.max)) {
		return nil, mismatch(value, typeID)
	}

	// range checked above
	if unsigned && typeID != ua.TypeIDUint64 {
		i = int64(u)
	}
	if !unsigned && typeID == ua.TypeIDUint64 {
		u = uint64(i)
	}

	switch typeID {
	case ua.TypeIDSByte:
		return int8(i), nil
	case ua.TypeIDByte:
		return uint8(i), nil
	case ua.TypeIDInt16:
		return int16(i), nil
	case ua.TypeIDUint16:
		return uint16(i), nil
	case ua.TypeIDInt32:
		return int32(i), nil
	case ua.TypeIDUint32:
		return uint32(i), nil
	case ua.TypeIDInt64:
		return i, nil
	default:
		return u, nil
	}
}

// integerExact reports whether an integer value converts to float32
// (narrow) or float64 and back without changing. Non integers pass.
func integerExact(value any, narrow bool) bool {
	round := func(f float64) float64 {
		if narrow {
			return float64(float32(f))
		}
		return f
	}

	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		i := reflect.ValueOf(v).Int()
		g := round(float64(i))
		return g >= math.MinInt64 && g < math.MaxInt64 && int64(g) == i
	case uint, uint8, uint16, uint32, uint64:
		n := reflect.ValueOf(v).Uint()
		g := round(float64(n))
		return g < math.MaxUint64 && uint64(g) == n
	default:
		return true
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func mismatch(value any, typeID ua.TypeID) error {
	return errors.Wrapf(ErrTypeMismatch, "%v (%T) as %v", value, value, typeID)
}

// AsBool interprets a value read from a boolean signal.
func AsBool(value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, errors.Wrapf(ErrTypeMismatch, "expected bool, got %T", value)
	}
	return b, nil
}

// AsFloat converts any numeric signal value to float64.
func AsFloat(value any) (float64, bool) {
	return toFloat(value)
}

// Equal compares two signal values. Numbers compare by value regardless of
// their Go type, so an int16 read back equals the int that was written.
func Equal(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

package format

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"time"
)

// renderValue turns a resolved attribute value into its string form. It never
// panics: a misbehaving Stringer, error or marshaller degrades to %+v or a
// !PANIC marker.
func renderValue(v slog.Value) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("!PANIC(%v)", r)
		}
	}()

	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindGroup:
		return renderGroup(v.Group())
	case slog.KindLogValuer:
		return renderValue(v.Resolve())
	default:
		return renderAny(v.Any())
	}
}

func renderGroup(attrs []slog.Attr) string {
	fields := flatten(nil, "", attrs)
	return renderProperties(fields)
}

func renderAny(a any) string {
	switch x := a.(type) {
	case nil:
		return "<nil>"
	case error:
		return safeCall(func() string { return x.Error() }, a)
	case fmt.Stringer:
		return safeCall(func() string { return x.String() }, a)
	case []byte:
		return string(x)
	case json.Marshaler:
		return marshalOrPrint(a)
	}

	rv := reflect.ValueOf(a)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "<nil>"
		}
		return marshalOrPrint(a)
	default:
		return fmt.Sprint(a)
	}
}

func marshalOrPrint(a any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("%+v", a)
		}
	}()
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Sprintf("%+v", a)
	}
	return string(data)
}

func safeCall(fn func() string, a any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("!PANIC(%T: %v)", a, r)
		}
	}()
	return fn()
}

package classify

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
)

// probe is the normalized view of an arbitrary failure value: a best-effort
// message plus optional status/code fields the rules can inspect.
type probe struct {
	err      error
	msg      string
	lower    string
	code     int
	hasCode  bool
	grpcCode codes.Code
	hasGRPC  bool
	empty    bool
}

// extract builds a probe from literally any value without panicking.
func extract(v any) probe {
	var p probe

	switch val := v.(type) {
	case nil:
		p.empty = true
		return p
	case error:
		p.err = val
		p.msg = val.Error()
		if code, ok := grpcStatus(val); ok {
			p.grpcCode = code
			p.hasGRPC = true
		}
		if sc, ok := statusCodeOf(val); ok {
			p.code = sc
			p.hasCode = true
		}
	case string:
		p.msg = val
	case fmt.Stringer:
		p.msg = safeString(val)
	default:
		p.msg, p.code, p.hasCode = reflectFailure(val)
	}

	p.lower = strings.ToLower(p.msg)
	p.empty = p.msg == "" && !p.hasCode && !p.hasGRPC
	return p
}

// statusCodeOf pulls an HTTP-ish status code off errors that expose one,
// walking the wrap chain so fmt.Errorf("%w") does not hide the code.
func statusCodeOf(err error) (int, bool) {
	type coder interface{ StatusCode() int }
	var c coder
	if errors.As(err, &c) {
		return c.StatusCode(), true
	}
	type legacy interface{ Code() int }
	var l legacy
	if errors.As(err, &l) {
		return l.Code(), true
	}
	return 0, false
}

// reflectFailure walks an unknown struct or map looking for conventional
// message and status fields. Only exported fields are read.
func reflectFailure(v any) (msg string, code int, hasCode bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "", 0, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		rt := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			f := rt.Field(i)
			if f.PkgPath != "" {
				continue
			}
			switch strings.ToLower(f.Name) {
			case "message", "msg", "error", "detail":
				if s, ok := asString(rv.Field(i)); ok && msg == "" {
					msg = s
				}
			case "status", "statuscode", "code":
				if n, ok := asInt(rv.Field(i)); ok && !hasCode {
					code = n
					hasCode = true
				}
			}
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		for _, k := range rv.MapKeys() {
			switch strings.ToLower(k.String()) {
			case "message", "msg", "error", "detail":
				if s, ok := asString(rv.MapIndex(k)); ok && msg == "" {
					msg = s
				}
			case "status", "statuscode", "code":
				if n, ok := asInt(rv.MapIndex(k)); ok && !hasCode {
					code = n
					hasCode = true
				}
			}
		}
	case reflect.String:
		msg = rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Float32, reflect.Float64, reflect.Bool:
		msg = fmt.Sprint(v)
	}

	return msg, code, hasCode
}

func asString(rv reflect.Value) (string, bool) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	if rv.CanInterface() {
		if err, ok := rv.Interface().(error); ok && err != nil {
			return err.Error(), true
		}
	}
	return "", false
}

func asInt(rv reflect.Value) (int, bool) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return 0, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return int(rv.Float()), true
	case reflect.String:
		if n, err := strconv.Atoi(rv.String()); err == nil {
			return n, true
		}
	}
	return 0, false
}

// safeString tolerates Stringer implementations that panic on nil receivers.
func safeString(s fmt.Stringer) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = ""
		}
	}()
	return s.String()
}

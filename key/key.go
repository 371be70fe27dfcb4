// This file turns caller supplied identifiers into canonical cache keys.

package key

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ErrInvalidKey is matched by every error returned from Canonicalize.
var ErrInvalidKey = errors.New("invalid cache key")

// InvalidKeyError describes why a raw key was rejected.
type InvalidKeyError struct {
	Raw    any
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("%s %#v: %s", ErrInvalidKey, e.Raw, e.Reason)
}

func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

/*
Key is the canonical, comparable identifier of a cache entry.

The canonical form is the JSON array text of the key parts:

	"pokemon"             -> ["pokemon"]
	[]any{"post", 3}      -> ["post",3]

A scalar is the same key as the one element sequence holding it.
Order is significant, so ["a","b"] and ["b","a"] are different keys.
*/
type Key string

// String returns the canonical form.
func (k Key) String() string { return string(k) }

// Len returns the number of parts in the key.
func (k Key) Len() int {
	return len(gjson.Parse(string(k)).Array())
}

// Part returns the i-th part of the key. Missing parts report Exists() == false.
func (k Key) Part(i int) gjson.Result {
	parts := gjson.Parse(string(k)).Array()
	if i < 0 || i >= len(parts) {
		return gjson.Result{}
	}
	return parts[i]
}

/*
HasPrefix reports whether every part of prefix matches the leading parts of k.
This is what prefix invalidation uses: "posts" matches ["posts", 1].
*/
func (k Key) HasPrefix(prefix Key) bool {
	kp := gjson.Parse(string(k)).Array()
	pp := gjson.Parse(string(prefix)).Array()
	if len(pp) > len(kp) {
		return false
	}
	for i := range pp {
		if pp[i].Raw != kp[i].Raw {
			return false
		}
	}
	return true
}

/*
Canonicalize normalizes a raw identifier into a Key.

Accepted inputs:
  - scalars: string, bool, signed and unsigned integers, finite floats
  - a Key already in canonical form (returned unchanged)
  - a slice or array of scalars (at least one element)

Everything else fails with an error matching ErrInvalidKey.
*/
func Canonicalize(raw any) (Key, error) {
	if k, ok := raw.(Key); ok {
		if err := checkCanonical(k); err != nil {
			return "", &InvalidKeyError{Raw: raw, Reason: err.Error()}
		}
		return k, nil
	}
	if raw == nil {
		return "", &InvalidKeyError{Raw: raw, Reason: "nil key"}
	}

	var parts []any
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return "", &InvalidKeyError{Raw: raw, Reason: "byte slices are not supported"}
		}
		if rv.Len() == 0 {
			return "", &InvalidKeyError{Raw: raw, Reason: "empty sequence"}
		}
		parts = make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			p, err := scalar(rv.Index(i))
			if err != nil {
				return "", &InvalidKeyError{Raw: raw, Reason: fmt.Sprintf("element %d: %s", i, err)}
			}
			parts[i] = p
		}
	default:
		p, err := scalar(rv)
		if err != nil {
			return "", &InvalidKeyError{Raw: raw, Reason: err.Error()}
		}
		parts = []any{p}
	}

	b, err := json.Marshal(parts)
	if err != nil {
		return "", &InvalidKeyError{Raw: raw, Reason: err.Error()}
	}
	return Key(b), nil
}

// MustCanonicalize is Canonicalize for keys known to be valid at compile time.
func MustCanonicalize(raw any) Key {
	k, err := Canonicalize(raw)
	if err != nil {
		panic(err)
	}
	return k
}

// scalar reduces v to a JSON friendly primitive with a single encoding.
func scalar(v reflect.Value) (any, error) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, errors.New("nil element")
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.String:
		// json.Marshal would fold every invalid byte into U+FFFD.
		if !utf8.ValidString(v.String()) {
			return nil, errors.New("invalid UTF-8")
		}
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errors.New("non-finite float")
		}
		// Integral floats share the integer encoding so 2.0 and 2 collide.
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", strings.TrimSpace(v.Type().String()))
	}
}

// checkCanonical rejects a Key that Canonicalize could not have produced.
func checkCanonical(k Key) error {
	s := string(k)
	if s == "" {
		return errors.New("empty key")
	}
	if !gjson.Valid(s) {
		return errors.New("not valid JSON")
	}
	res := gjson.Parse(s)
	if !res.IsArray() {
		return errors.New("not a JSON array")
	}
	elems := res.Array()
	if len(elems) == 0 {
		return errors.New("empty sequence")
	}

	parts := make([]any, len(elems))
	for i, e := range elems {
		p, err := decodePart(e)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		parts[i] = p
	}
	b, err := json.Marshal(parts)
	if err != nil {
		return err
	}
	if string(b) != s {
		return errors.New("not in canonical form")
	}
	return nil
}

func decodePart(r gjson.Result) (any, error) {
	switch r.Type {
	case gjson.String:
		return scalar(reflect.ValueOf(r.Str))
	case gjson.True, gjson.False:
		return r.Bool(), nil
	case gjson.Number:
		if i, err := strconv.ParseInt(r.Raw, 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(r.Raw, 10, 64); err == nil {
			return u, nil
		}
		return scalar(reflect.ValueOf(r.Num))
	default:
		return nil, fmt.Errorf("unsupported element %s", r.Raw)
	}
}

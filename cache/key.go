package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// hashLength is the number of hex characters of the SHA-256 digest kept in a key.
const hashLength = 16

// maxSanitizeDepth bounds the walk over values encoding/json rejects, which
// also stops on reference cycles.
const maxSanitizeDepth = 32

// Canonical renders a fingerprint as stable text: JSON with every object's
// keys sorted, whatever the field or insertion order of the input. Parts
// encoding/json rejects (channels, functions, complex numbers, NaN) are
// replaced by a placeholder naming their type, never by a memory address.
func Canonical(fingerprint any) string {
	raw, err := json.Marshal(fingerprint)
	if err != nil {
		raw, err = json.Marshal(sanitize(reflect.ValueOf(fingerprint), 0))
		if err != nil {
			return placeholder(reflect.TypeOf(fingerprint))
		}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return string(raw)
	}
	// maps marshal with sorted keys, so one round trip through generic values
	// normalises struct field order too
	out, err := json.Marshal(generic)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// Fingerprint returns the truncated SHA-256 hex digest of the canonical form.
// It is deterministic across processes and restarts.
func Fingerprint(fingerprint any) string {
	sum := sha256.Sum256([]byte(Canonical(fingerprint)))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// FormatKey joins the parts of a versioned cache key: namespace:v<version>:<hash>.
func FormatKey(namespace string, version int64, hash string) string {
	return namespace + ":v" + strconv.FormatInt(version, 10) + ":" + hash
}

func placeholder(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return "<" + t.String() + ">"
}

// sanitize rebuilds v as plain values encoding/json accepts. Branches that
// already marshal are kept as raw JSON.
func sanitize(v reflect.Value, depth int) any {
	if !v.IsValid() {
		return nil
	}
	if depth > maxSanitizeDepth {
		return placeholder(v.Type())
	}
	if v.CanInterface() {
		if raw, err := json.Marshal(v.Interface()); err == nil {
			return json.RawMessage(raw)
		}
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitize(v.Elem(), depth+1)
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return f
	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k := iter.Key()
			name := placeholder(k.Type())
			switch k.Kind() {
			case reflect.String:
				name = k.String()
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				name = strconv.FormatInt(k.Int(), 10)
			case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
				name = strconv.FormatUint(k.Uint(), 10)
			}
			out[name] = sanitize(iter.Value(), depth+1)
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = sanitize(v.Index(i), depth+1)
		}
		return out
	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, ok := f.Tag.Lookup("json"); ok {
				tag, _, _ = strings.Cut(tag, ",")
				if tag == "-" {
					continue
				}
				if tag != "" {
					name = tag
				}
			}
			out[name] = sanitize(v.Field(i), depth+1)
		}
		return out
	}
	return placeholder(v.Type())
}

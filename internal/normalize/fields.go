package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"oms-gateway/pkg/venue"
)

// FieldError reports a payload field whose value could not be interpreted.
// The field is zeroed and normalization continues.
type FieldError struct {
	Field string
	Value any
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("normalize: field %q has unexpected value %v (%T)", e.Field, e.Value, e.Value)
}

// venueTZ is the zone of venue timestamps that carry no offset.
var venueTZ = time.FixedZone("IST", 5*3600+30*60)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// reader pulls typed values out of a payload, collecting problems instead of
// failing on the first one.
type reader struct {
	p    venue.Payload
	errs []error
}

func newReader(p venue.Payload) *reader {
	if nested, ok := p["details"].(map[string]any); ok {
		p = nested
	}
	return &reader{p: p}
}

func (r *reader) bad(field string, v any) {
	r.errs = append(r.errs, &FieldError{Field: field, Value: v})
}

func (r *reader) err() error { return errors.Join(r.errs...) }

func (r *reader) has(key string) bool {
	v, ok := r.p[key]
	return ok && v != nil
}

func (r *reader) str(key string) string {
	v, ok := r.p[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	}
	r.bad(key, v)
	return ""
}

func (r *reader) num(key string) float64 {
	v, ok := r.p[key]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint32:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err == nil {
			return f
		}
	case string:
		if strings.TrimSpace(n) == "" {
			return 0
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f
		}
	}
	r.bad(key, v)
	return 0
}

func (r *reader) firstNum(keys ...string) float64 {
	for _, k := range keys {
		if r.has(k) {
			return r.num(k)
		}
	}
	return 0
}

func (r *reader) int(key string) int64 {
	return int64(r.num(key))
}

func (r *reader) time(key string) *time.Time {
	v, ok := r.p[key]
	if !ok || v == nil {
		return nil
	}
	s, isStr := v.(string)
	if !isStr {
		r.bad(key, v)
		return nil
	}
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, venueTZ); err == nil {
			return &t
		}
	}
	r.bad(key, v)
	return nil
}

func join(errs []error) error {
	return errors.Join(errs...)
}

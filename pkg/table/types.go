// Package table provides the small column-oriented table model used for cohort
// metadata. Missing values are represented by nil; present values are one of
// string, bool, float64, int64 or time.Time depending on the column type.
package table

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical textual form of date values.
const DateLayout = "2006-01-02"

// MissingToken is the textual sentinel used for missing values in bundle files.
const MissingToken = "NA"

// Kind enumerates the semantic column types.
type Kind uint8

const (
	KindString Kind = iota
	KindCategorical
	KindBoolean
	KindNumeric
	KindInteger
	KindDate
)

var kindNames = map[Kind]string{
	KindString:      "string",
	KindCategorical: "categorical",
	KindBoolean:     "boolean",
	KindNumeric:     "numeric",
	KindInteger:     "integer",
	KindDate:        "date",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// kindTokens maps accepted type tokens (including the common statistical
// aliases) onto kinds.
var kindTokens = map[string]Kind{
	"string":      KindString,
	"character":   KindString,
	"categorical": KindCategorical,
	"factor":      KindCategorical,
	"boolean":     KindBoolean,
	"logical":     KindBoolean,
	"numeric":     KindNumeric,
	"double":      KindNumeric,
	"integer":     KindInteger,
	"date":        KindDate,
}

// ParseKind resolves a type token. Matching is case-insensitive.
func ParseKind(token string) (Kind, bool) {
	k, ok := kindTokens[strings.ToLower(strings.TrimSpace(token))]
	return k, ok
}

// KindTokens lists every accepted type token in sorted order.
func KindTokens() []string {
	out := make([]string, 0, len(kindTokens))
	for token := range kindTokens {
		out = append(out, token)
	}
	slices.Sort(out)
	return out
}

// ColumnType is a tagged union over the supported column types. Levels and
// Ordered are only meaningful for KindCategorical.
type ColumnType struct {
	Kind    Kind     `json:"kind"`
	Levels  []string `json:"levels,omitempty"`
	Ordered bool     `json:"ordered,omitempty"`
}

func StringType() ColumnType  { return ColumnType{Kind: KindString} }
func BooleanType() ColumnType { return ColumnType{Kind: KindBoolean} }
func NumericType() ColumnType { return ColumnType{Kind: KindNumeric} }
func IntegerType() ColumnType { return ColumnType{Kind: KindInteger} }
func DateType() ColumnType    { return ColumnType{Kind: KindDate} }

// Categorical returns a categorical type with the supplied level sequence.
func Categorical(levels []string, ordered bool) ColumnType {
	return ColumnType{Kind: KindCategorical, Levels: slices.Clone(levels), Ordered: ordered}
}

// Clone returns a deep copy.
func (t ColumnType) Clone() ColumnType {
	t.Levels = slices.Clone(t.Levels)
	return t
}

// HasLevel reports whether level is declared on a categorical type.
func (t ColumnType) HasLevel(level string) bool {
	return slices.Contains(t.Levels, level)
}

func (t ColumnType) String() string {
	if t.Kind != KindCategorical {
		return t.Kind.String()
	}
	prefix := "categorical"
	if t.Ordered {
		prefix = "ordered categorical"
	}
	return fmt.Sprintf("%s[%s]", prefix, strings.Join(t.Levels, ","))
}

// CoercionError reports a value that cannot be represented in a column type.
type CoercionError struct {
	Type  ColumnType
	Value any
}

func (e *CoercionError) Error() string {
	if e.Type.Kind == KindCategorical {
		return fmt.Sprintf("value %q is not a level of %s", FormatValue(e.Value), e.Type)
	}
	return fmt.Sprintf("cannot convert %q to %s", FormatValue(e.Value), e.Type.Kind)
}

// Coerce converts v to the representation of the column type, failing when
// the value is incompatible. A nil value is accepted for every type.
func (t ColumnType) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case KindString:
		return FormatValue(v), nil
	case KindCategorical:
		s := FormatValue(v)
		if !t.HasLevel(s) {
			return nil, &CoercionError{Type: t, Value: v}
		}
		return s, nil
	case KindBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, &CoercionError{Type: t, Value: v}
	case KindNumeric:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		return nil, &CoercionError{Type: t, Value: v}
	case KindInteger:
		if i, ok := toInt(v); ok {
			return i, nil
		}
		return nil, &CoercionError{Type: t, Value: v}
	case KindDate:
		if d, ok := toDate(v); ok {
			return d, nil
		}
		return nil, &CoercionError{Type: t, Value: v}
	default:
		return nil, &CoercionError{Type: t, Value: v}
	}
}

// Convert is the lenient form of Coerce: incompatible values become missing.
func (t ColumnType) Convert(v any) any {
	out, err := t.Coerce(v)
	if err != nil {
		return nil
	}
	return out
}

// ParseCell decodes the textual form of a value. The MissingToken and the empty
// string decode to nil.
func (t ColumnType) ParseCell(raw string) (any, error) {
	if raw == "" || raw == MissingToken {
		return nil, nil
	}
	return t.Coerce(raw)
}

// IsMissing reports whether v is the missing marker.
func IsMissing(v any) bool {
	if v == nil {
		return true
	}
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return true
	}
	return false
}

// FormatValue renders a value in its canonical textual form. Missing values
// render as the empty string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case time.Time:
		return x.UTC().Format(DateLayout)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case float64:
		return integral(x)
	case float32:
		return integral(float64(x))
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return integral(f)
		}
	}
	return 0, false
}

func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// 2^63 is exactly representable; MaxInt64 is not.
	if f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

func toDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		y, m, d := x.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	case string:
		d, err := time.Parse(DateLayout, strings.TrimSpace(x))
		if err != nil {
			return time.Time{}, false
		}
		return d, true
	}
	return time.Time{}, false
}

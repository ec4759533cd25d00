// Package prefs models browser preference overrides and the pref() declaration
// text a browser's preference loader reads at startup.
package prefs

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	// ErrEmptyKey is returned when an override has no key.
	ErrEmptyKey = errors.New("empty preference key")
	// ErrUnsupportedType is returned for values the preference store cannot hold.
	ErrUnsupportedType = errors.New("unsupported preference value type")
	// ErrIntRange is returned for integers outside the 32-bit range prefs are stored in.
	ErrIntRange = errors.New("integer preference value out of range")
)

// ValueType identifies which scalar a Value holds.
type ValueType int

const (
	TypeInvalid ValueType = iota
	TypeBool
	TypeInt
	TypeString
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeString:
		return "string"
	default:
		return "invalid"
	}
}

// ParseValueType is the inverse of ValueType.String.
func ParseValueType(s string) (ValueType, error) {
	switch s {
	case "bool":
		return TypeBool, nil
	case "int":
		return TypeInt, nil
	case "string":
		return TypeString, nil
	}
	return TypeInvalid, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

// Value is a tagged preference scalar. The zero Value is invalid.
type Value struct {
	typ ValueType
	b   bool
	i   int64
	s   string
}

func Bool(b bool) Value     { return Value{typ: TypeBool, b: b} }
func Int(i int64) Value     { return Value{typ: TypeInt, i: i} }
func String(s string) Value { return Value{typ: TypeString, s: s} }

func (v Value) Type() ValueType { return v.typ }

// AsBool, AsInt and AsString return the held scalar and whether v has that type.
func (v Value) AsBool() (bool, bool)     { return v.b, v.typ == TypeBool }
func (v Value) AsInt() (int64, bool)     { return v.i, v.typ == TypeInt }
func (v Value) AsString() (string, bool) { return v.s, v.typ == TypeString }

// Interface returns the value as a plain Go bool, int64 or string.
func (v Value) Interface() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeInt:
		return v.i
	case TypeString:
		return v.s
	}
	return nil
}

// Text returns the unquoted textual form of the value, used for storage and display.
func (v Value) Text() string {
	switch v.typ {
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeString:
		return v.s
	}
	return ""
}

func (v Value) String() string {
	if v.typ == TypeString {
		return strconv.Quote(v.s)
	}
	return v.Text()
}

// Validate reports whether v can be written to a prefs file.
func (v Value) Validate() error {
	switch v.typ {
	case TypeBool, TypeString:
		return nil
	case TypeInt:
		if v.i < math.MinInt32 || v.i > math.MaxInt32 {
			return fmt.Errorf("%w: %d", ErrIntRange, v.i)
		}
		return nil
	}
	return ErrUnsupportedType
}

// ParseValue decodes text as a value of type t.
func ParseValue(t ValueType, text string) (Value, error) {
	switch t {
	case TypeBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid bool %q", text)
		}
		return Bool(b), nil
	case TypeInt:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid int %q", text)
		}
		v := Int(i)
		return v, v.Validate()
	case TypeString:
		return String(text), nil
	}
	return Value{}, ErrUnsupportedType
}

// InferValue picks bool for "true"/"false", int for decimal integers, and
// string for anything else.
func InferValue(text string) Value {
	switch text {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil && i >= math.MinInt32 && i <= math.MaxInt32 {
		return Int(i)
	}
	return String(text)
}

// FromInterface converts a decoded TOML/YAML/JSON scalar into a Value.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return checked(Int(int64(t)))
	case int64:
		return checked(Int(t))
	case int32:
		return checked(Int(int64(t)))
	case uint64:
		if t > math.MaxInt32 {
			return Value{}, fmt.Errorf("%w: %d", ErrIntRange, t)
		}
		return Int(int64(t)), nil
	case float32, float64:
		return Value{}, fmt.Errorf("%w: float %v", ErrUnsupportedType, t)
	case nil:
		return Value{}, fmt.Errorf("%w: missing value", ErrUnsupportedType)
	}
	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, x)
}

func checked(v Value) (Value, error) {
	if err := v.Validate(); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Kind is the declaration function an override is written with.
type Kind string

const (
	KindDefault Kind = "pref"
	KindUser    Kind = "user_pref"
	KindSticky  Kind = "sticky_pref"
)

// ParseKind accepts the function names and the empty string (KindDefault).
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindDefault:
		return KindDefault, nil
	case KindUser, KindSticky:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown pref kind %q", s)
}

func (k Kind) orDefault() Kind {
	if k == "" {
		return KindDefault
	}
	return k
}

// Override is a single preference override record.
type Override struct {
	Key     string
	Value   Value
	Comment string
	Kind    Kind
	Locked  bool
}

// Validate checks that o can be rendered. Whether the consumer recognizes Key
// is not checked.
func (o Override) Validate() error {
	if o.Key == "" {
		return ErrEmptyKey
	}
	if _, err := ParseKind(string(o.Kind)); err != nil {
		return fmt.Errorf("%s: %w", o.Key, err)
	}
	if o.Locked && o.Kind == KindUser {
		return fmt.Errorf("%s: user_pref cannot be locked", o.Key)
	}
	if err := o.Value.Validate(); err != nil {
		return fmt.Errorf("%s: %w", o.Key, err)
	}
	return nil
}

// Set is an ordered collection of overrides with unique keys. The zero Set is
// empty and ready to use.
type Set struct {
	items []Override
	index map[string]int
}

// NewSet builds a set from overrides, later duplicates replacing earlier ones.
func NewSet(overrides ...Override) Set {
	var s Set
	for _, o := range overrides {
		s.Put(o)
	}
	return s
}

// Put inserts o, or replaces the existing override with the same key while
// keeping its position.
func (s *Set) Put(o Override) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[o.Key]; ok {
		s.items[i] = o
		return
	}
	s.index[o.Key] = len(s.items)
	s.items = append(s.items, o)
}

// Merge puts every override of other into s in order.
func (s *Set) Merge(other Set) {
	for _, o := range other.items {
		s.Put(o)
	}
}

func (s Set) Get(key string) (Override, bool) {
	i, ok := s.index[key]
	if !ok {
		return Override{}, false
	}
	return s.items[i], true
}

// Delete removes key and reports whether it was present.
func (s *Set) Delete(key string) bool {
	i, ok := s.index[key]
	if !ok {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, key)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j].Key] = j
	}
	return true
}

func (s Set) Len() int { return len(s.items) }

// Overrides returns a copy of the overrides in insertion order.
func (s Set) Overrides() []Override {
	out := make([]Override, len(s.items))
	copy(out, s.items)
	return out
}

// Sorted returns a copy of the overrides ordered by key.
func (s Set) Sorted() []Override {
	out := s.Overrides()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AutoInt is either an explicit positive integer or "auto", meaning the
// server picks the value. The zero value is Automatic.
type AutoInt struct {
	n   int
	set bool
}

// Automatic leaves the choice to the matching Resolve function.
var Automatic = AutoInt{}

// Explicit returns an AutoInt fixed to n.
func Explicit(n int) AutoInt { return AutoInt{n: n, set: true} }

// Value returns the explicit value and true, or 0 and false when automatic.
func (a AutoInt) Value() (int, bool) { return a.n, a.set }

// IsAuto reports whether a is Automatic.
func (a AutoInt) IsAuto() bool { return !a.set }

func (a AutoInt) String() string {
	if !a.set {
		return "auto"
	}
	return strconv.Itoa(a.n)
}

// ParseAutoInt accepts "auto" (or empty) and positive integers.
func ParseAutoInt(s string) (AutoInt, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return Automatic, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Automatic, fmt.Errorf("expected positive integer or \"auto\", got %q", s)
	}
	if n <= 0 {
		return Automatic, fmt.Errorf("expected positive integer or \"auto\", got %d", n)
	}
	return Explicit(n), nil
}

func (a AutoInt) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AutoInt) UnmarshalText(b []byte) error {
	v, err := ParseAutoInt(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// UnmarshalJSON accepts both 8 and "8" / "auto".
func (a *AutoInt) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return a.UnmarshalText([]byte(s))
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected positive integer or \"auto\": %w", err)
	}
	return a.UnmarshalText([]byte(strconv.Itoa(n)))
}

func (a AutoInt) MarshalJSON() ([]byte, error) {
	if !a.set {
		return []byte(`"auto"`), nil
	}
	return []byte(strconv.Itoa(a.n)), nil
}

func (a *AutoInt) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected scalar for auto int", node.Line)
	}
	return a.UnmarshalText([]byte(node.Value))
}

// Set and Type let AutoInt act as a pflag.Value.
func (a *AutoInt) Set(s string) error { return a.UnmarshalText([]byte(s)) }
func (a *AutoInt) Type() string       { return "int|auto" }

// Fixed values used when a setting is left automatic.
const (
	AutoQueueCapacity = 100
	AutoMaxBatchSize  = 1
)

// ResolveQueueCapacity turns the configured queue capacity into a number.
func ResolveQueueCapacity(a AutoInt) int {
	if n, ok := a.Value(); ok {
		return n
	}
	return AutoQueueCapacity
}

// ResolveBatchSize turns the configured max batch size into a number.
// TODO: size batches from free accelerator memory once the runner reports it.
func ResolveBatchSize(a AutoInt) int {
	if n, ok := a.Value(); ok {
		return n
	}
	return AutoMaxBatchSize
}

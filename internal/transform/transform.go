// Package transform applies declared per-field rules to raw source
// values before storage. Rules are parsed once at configuration time;
// row processing never sees an unknown rule kind.
package transform

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrTransform marks a value that cannot satisfy its declared rule.
var ErrTransform = errors.New("transform: value violates rule")

// Kind enumerates the supported rule kinds.
type Kind int

const (
	// KindIdentity passes the raw value through unchanged.
	KindIdentity Kind = iota
	// KindSplit splits on a delimiter, discarding empty tokens.
	KindSplit
	// KindNumber parses a float and rounds to a declared precision.
	KindNumber
)

// Rule is one compiled field transformation.
//
// Number rules store values at reduced precision for compactness: the
// formatted value re-parses to within 0.5*10^-precision of the rounded
// input. This loss is bounded and deliberate, not silent.
type Rule struct {
	kind      Kind
	delim     string
	precision int
}

// Identity returns the pass-through rule.
func Identity() Rule {
	return Rule{kind: KindIdentity}
}

// Split returns a rule splitting on delim.
func Split(delim string) Rule {
	return Rule{kind: KindSplit, delim: delim}
}

// Number returns a rule rounding to precision decimal places.
func Number(precision int) Rule {
	return Rule{kind: KindNumber, precision: precision}
}

// Kind returns the rule's kind.
func (r Rule) Kind() Kind {
	return r.kind
}

// Parse resolves a manifest rule string into a compiled rule.
// Accepted forms: "identity" (or empty), "split <delim>", "number <precision>".
func Parse(spec string) (Rule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "identity" {
		return Identity(), nil
	}

	fields := strings.SplitN(spec, " ", 2)
	switch fields[0] {
	case "split":
		if len(fields) != 2 || fields[1] == "" {
			return Rule{}, fmt.Errorf("split rule needs a delimiter: %q", spec)
		}
		return Split(fields[1]), nil
	case "number":
		precision := 2
		if len(fields) == 2 {
			p, err := strconv.Atoi(strings.TrimSpace(fields[1]))
			if err != nil || p < 0 || p > 10 {
				return Rule{}, fmt.Errorf("number rule precision must be 0-10: %q", spec)
			}
			precision = p
		}
		return Number(precision), nil
	default:
		return Rule{}, fmt.Errorf("unknown transform rule kind %q", fields[0])
	}
}

// Apply transforms a raw value into one or more output values.
func (r Rule) Apply(raw string) ([]string, error) {
	switch r.kind {
	case KindIdentity:
		return []string{raw}, nil

	case KindSplit:
		parts := strings.Split(raw, r.delim)
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, nil

	case KindNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not numeric", ErrTransform, raw)
		}
		scale := math.Pow10(r.precision)
		rounded := math.Round(f*scale) / scale
		return []string{strconv.FormatFloat(rounded, 'f', -1, 64)}, nil

	default:
		return nil, fmt.Errorf("%w: unresolved rule kind %d", ErrTransform, r.kind)
	}
}

// RuleSet maps feature-field names to their compiled rules. Fields
// without an entry get the identity rule.
type RuleSet map[string]Rule

// Compile resolves a manifest's field->rule-string map into a RuleSet.
// Unknown rule kinds fail here, at configuration-validation time.
func Compile(specs map[string]string) (RuleSet, error) {
	rs := make(RuleSet, len(specs))
	for field, spec := range specs {
		rule, err := Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		rs[field] = rule
	}
	return rs, nil
}

// Apply transforms a field's raw value through its rule, or identity
// when the field has no declared rule.
func (rs RuleSet) Apply(field, raw string) ([]string, error) {
	rule, ok := rs[field]
	if !ok {
		rule = Identity()
	}
	vals, err := rule.Apply(raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", field, err)
	}
	return vals, nil
}

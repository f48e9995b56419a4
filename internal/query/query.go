// Package query evaluates "path operator value" conditions, joined by and/or,
// against the JSON form of records.
//
// Example: []string{"year greaterThan 1990", "and", "title contains-insensitive matrix"}.
package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ucasvieira/locadora/internal/errs"
)

// Logic joins two conditions.
type Logic string

const (
	And Logic = "and"
	Or  Logic = "or"
)

// Condition is one parsed "path operator value" clause.
type Condition struct {
	Path        string     // gjson path into the record
	Operator    string     // base operator, lower case, without suffix
	Value       any        // string, float64, bool or nil
	Type        gjson.Type // type of Value
	Insensitive bool
	Original    string
}

// Query is a sequence of conditions evaluated left to right; Logic[i] joins
// the running result with Conditions[i+1]. There is no precedence.
type Query struct {
	Conditions []Condition
	Logic      []Logic
}

const insensitiveSuffix = "-insensitive"

var operators = map[string]bool{
	"equals": true, "notequals": true,
	"greaterthan": true, "lessthan": true,
	"greaterthanorequals": true, "lessthanorequals": true,
	"contains": true, "startswith": true, "endswith": true,
}

// operators accepting the -insensitive suffix
var stringOperators = map[string]bool{
	"equals": true, "notequals": true,
	"contains": true, "startswith": true, "endswith": true,
}

var numberLiteral = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Parse validates parts, which alternate condition, logic, condition...
// An empty input yields a nil query that matches everything. Errors wrap
// errs.ErrValidation.
func Parse(parts []string) (*Query, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	q := &Query{}
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("%w: query part %d is empty", errs.ErrValidation, i)
		}
		if i%2 == 0 {
			c, err := parseCondition(part)
			if err != nil {
				return nil, fmt.Errorf("%w: condition %d (%q): %v", errs.ErrValidation, i, part, err)
			}
			q.Conditions = append(q.Conditions, c)
			continue
		}
		l := Logic(strings.ToLower(part))
		if l != And && l != Or {
			return nil, fmt.Errorf("%w: part %d: expected and/or, got %q", errs.ErrValidation, i, part)
		}
		q.Logic = append(q.Logic, l)
	}
	if len(parts)%2 == 0 {
		return nil, fmt.Errorf("%w: query must end with a condition", errs.ErrValidation)
	}
	return q, nil
}

func parseCondition(s string) (Condition, error) {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return Condition{}, fmt.Errorf("want path, operator and value")
	}
	c := Condition{Path: fields[0], Operator: strings.ToLower(fields[1]), Original: s}
	if base, ok := strings.CutSuffix(c.Operator, insensitiveSuffix); ok {
		if !stringOperators[base] {
			return Condition{}, fmt.Errorf("operator %q has no case-insensitive form", base)
		}
		c.Operator, c.Insensitive = base, true
	}
	if !operators[c.Operator] {
		return Condition{}, fmt.Errorf("unknown operator %q", fields[1])
	}

	// the value is everything after the operator, spacing preserved
	rest := strings.TrimSpace(s[strings.Index(s, fields[0])+len(fields[0]):])
	rest = strings.TrimSpace(rest[len(fields[1]):])
	c.Value, c.Type = parseValue(rest)
	return c, nil
}

func parseValue(v string) (any, gjson.Type) {
	switch {
	case len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"':
		return v[1 : len(v)-1], gjson.String
	case v == "null":
		return nil, gjson.Null
	case numberLiteral.MatchString(v):
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f, gjson.Number
		}
	case v == "true":
		return true, gjson.True
	case v == "false":
		return false, gjson.False
	}
	return v, gjson.String
}

// Match evaluates q against one JSON document. A nil query matches.
func (q *Query) Match(doc string) (bool, error) {
	if q == nil || len(q.Conditions) == 0 {
		return true, nil
	}
	result, err := q.Conditions[0].eval(doc)
	if err != nil {
		return false, err
	}
	for i, l := range q.Logic {
		next, err := q.Conditions[i+1].eval(doc)
		if err != nil {
			return false, err
		}
		if l == And {
			result = result && next
		} else {
			result = result || next
		}
	}
	return result, nil
}

// Filter returns the items whose JSON form matches q, preserving order.
func Filter[T any](items []T, q *Query) ([]T, error) {
	if q == nil {
		return items, nil
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, err
		}
		ok, err := q.Match(string(b))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// eval applies the condition to doc. A missing path only satisfies notequals.
func (c Condition) eval(doc string) (bool, error) {
	target := gjson.Get(doc, c.Path)
	if !target.Exists() {
		return c.Operator == "notequals", nil
	}

	if target.IsArray() && c.Operator == "contains" {
		found := false
		target.ForEach(func(_, el gjson.Result) bool {
			found = c.equal(el)
			return !found
		})
		return found, nil
	}

	if target.Type == gjson.Null || c.Type == gjson.Null {
		both := target.Type == c.Type
		switch c.Operator {
		case "equals":
			return both, nil
		case "notequals":
			return !both, nil
		}
		return false, fmt.Errorf("%w: %q cannot compare null", errs.ErrValidation, c.Original)
	}

	switch target.Type {
	case gjson.String:
		return c.evalString(target.String())
	case gjson.Number:
		return c.evalNumber(target.Float())
	case gjson.True, gjson.False:
		if c.Type != gjson.True && c.Type != gjson.False {
			return c.Operator == "notequals", nil
		}
		switch c.Operator {
		case "equals":
			return target.Bool() == c.Value.(bool), nil
		case "notequals":
			return target.Bool() != c.Value.(bool), nil
		}
		return false, fmt.Errorf("%w: %q is invalid for booleans", errs.ErrValidation, c.Original)
	}
	return false, fmt.Errorf("%w: %q cannot compare objects or arrays", errs.ErrValidation, c.Original)
}

// equal reports element equality for array contains.
func (c Condition) equal(el gjson.Result) bool {
	switch el.Type {
	case gjson.String:
		s, ok := c.Value.(string)
		if !ok {
			return false
		}
		if c.Insensitive {
			return strings.EqualFold(el.String(), s)
		}
		return el.String() == s
	case gjson.Number:
		f, ok := c.Value.(float64)
		return ok && el.Float() == f
	case gjson.True, gjson.False:
		b, ok := c.Value.(bool)
		return ok && el.Bool() == b
	case gjson.Null:
		return c.Type == gjson.Null
	}
	return false
}

func (c Condition) evalString(target string) (bool, error) {
	if !stringOperators[c.Operator] {
		return false, fmt.Errorf("%w: %q cannot order strings", errs.ErrValidation, c.Original)
	}
	want, ok := c.Value.(string)
	if !ok {
		// numbers and booleans written unquoted still compare as text
		want = fmt.Sprint(c.Value)
	}
	if c.Insensitive {
		target, want = strings.ToLower(target), strings.ToLower(want)
	}
	switch c.Operator {
	case "equals":
		return target == want, nil
	case "notequals":
		return target != want, nil
	case "contains":
		return strings.Contains(target, want), nil
	case "startswith":
		return strings.HasPrefix(target, want), nil
	default: // endswith
		return strings.HasSuffix(target, want), nil
	}
}

func (c Condition) evalNumber(target float64) (bool, error) {
	want, ok := c.Value.(float64)
	if !ok {
		if c.Operator == "notequals" {
			return true, nil
		}
		return false, fmt.Errorf("%w: %q: %v is not a number", errs.ErrValidation, c.Original, c.Value)
	}
	switch c.Operator {
	case "equals":
		return target == want, nil
	case "notequals":
		return target != want, nil
	case "greaterthan":
		return target > want, nil
	case "lessthan":
		return target < want, nil
	case "greaterthanorequals":
		return target >= want, nil
	case "lessthanorequals":
		return target <= want, nil
	}
	return false, fmt.Errorf("%w: %q is invalid for numbers", errs.ErrValidation, c.Original)
}

// Package query selects nodes of a serialized document graph.
package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/athapong/docgraph/pkg/graph"
)

type Operator string

const (
	Eq       Operator = "eq"
	Ne       Operator = "ne"
	Contains Operator = "contains"
	Gt       Operator = "gt"
	Gte      Operator = "gte"
	Lt       Operator = "lt"
	Lte      Operator = "lte"
)

// Fields a filter can name.
const (
	FieldID         = "id"
	FieldElementID  = "elementId"
	FieldPage       = "page"
	FieldType       = "type"
	FieldText       = "text"
	FieldConfidence = "confidence"
	FieldSummary    = "summary"
)

type Query struct {
	Types   []graph.ElementType `json:"types,omitempty"`
	Filters []Filter            `json:"filters"`
	Limit   int                 `json:"limit"`
	Skip    int                 `json:"skip"`
}

type Filter struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

func New() *Query {
	return &Query{
		Filters: make([]Filter, 0),
	}
}

func (q *Query) AddType(t graph.ElementType) *Query {
	q.Types = append(q.Types, t)
	return q
}

func (q *Query) AddFilter(filter Filter) *Query {
	q.Filters = append(q.Filters, filter)
	return q
}

func (q *Query) SetLimit(limit int) *Query {
	q.Limit = limit
	return q
}

func (q *Query) SetSkip(skip int) *Query {
	q.Skip = skip
	return q
}

func (q *Query) ToJSON() ([]byte, error) {
	return json.Marshal(q)
}

func FromJSON(data []byte) (*Query, error) {
	var q Query
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}
	return &q, q.Validate()
}

// Validate checks that every filter names a known field with an operator
// and value that suit it.
func (q *Query) Validate() error {
	if q.Limit < 0 || q.Skip < 0 {
		return fmt.Errorf("limit and skip must not be negative")
	}
	for _, f := range q.Filters {
		switch f.Field {
		case FieldPage, FieldConfidence:
			if _, ok := number(f.Value); !ok {
				return fmt.Errorf("filter on %s needs a numeric value", f.Field)
			}
			if f.Operator == Contains {
				return fmt.Errorf("operator %s does not apply to %s", f.Operator, f.Field)
			}
		case FieldID, FieldElementID, FieldType, FieldText, FieldSummary:
			if _, ok := f.Value.(string); !ok {
				return fmt.Errorf("filter on %s needs a string value", f.Field)
			}
			switch f.Operator {
			case Eq, Ne, Contains:
			default:
				return fmt.Errorf("operator %s does not apply to %s", f.Operator, f.Field)
			}
		default:
			return fmt.Errorf("unknown field %q", f.Field)
		}
		switch f.Operator {
		case Eq, Ne, Contains, Gt, Gte, Lt, Lte:
		default:
			return fmt.Errorf("unknown operator %q", f.Operator)
		}
	}
	return nil
}

// Run returns the matching nodes of w in graph order, after Skip and up to
// Limit. A zero Limit returns every match.
func (q *Query) Run(w *graph.WireGraph) ([]graph.WireNode, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	out := make([]graph.WireNode, 0)
	skipped := 0
	for _, n := range w.Nodes {
		if !q.matches(n) {
			continue
		}
		if skipped < q.Skip {
			skipped++
			continue
		}
		out = append(out, n)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (q *Query) matches(n graph.WireNode) bool {
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if strings.EqualFold(string(t), string(n.Type)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, f := range q.Filters {
		if !f.matches(n) {
			return false
		}
	}
	return true
}

func (f Filter) matches(n graph.WireNode) bool {
	switch f.Field {
	case FieldPage:
		return compare(float64(n.Page), f)
	case FieldConfidence:
		return compare(n.Confidence, f)
	}

	var s string
	switch f.Field {
	case FieldID:
		s = n.ID
	case FieldElementID:
		s = n.ElementID
	case FieldType:
		s = string(n.Type)
	case FieldText:
		s = n.Text
	case FieldSummary:
		s = n.Summary
	}
	want, _ := f.Value.(string)
	switch f.Operator {
	case Eq:
		return s == want
	case Ne:
		return s != want
	case Contains:
		return strings.Contains(strings.ToLower(s), strings.ToLower(want))
	}
	return false
}

func compare(v float64, f Filter) bool {
	want, _ := number(f.Value)
	switch f.Operator {
	case Eq:
		return v == want
	case Ne:
		return v != want
	case Gt:
		return v > want
	case Gte:
		return v >= want
	case Lt:
		return v < want
	case Lte:
		return v <= want
	}
	return false
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

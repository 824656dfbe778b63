package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentRef addresses a single record. ParentID is set only for nested
// collections and holds the owning asset id.
type DocumentRef struct {
	Collection EntityType `json:"collection"`
	ParentID   string     `json:"parent_id,omitempty"`
	ID         string     `json:"id"`
}

// Path renders the ref as a slash-separated document path.
func (r DocumentRef) Path() string {
	if r.Collection.Nested() {
		return fmt.Sprintf("%s/%s/%s/%s", EntityAsset, r.ParentID, r.Collection, r.ID)
	}
	return fmt.Sprintf("%s/%s", r.Collection, r.ID)
}

// Document is the collection-agnostic form of a stored record.
type Document struct {
	DocumentRef
	Data json.RawMessage `json:"data"`
}

// NewDocument marshals value as the document body.
func NewDocument(ref DocumentRef, value any) (Document, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Document{}, fmt.Errorf("encode %s: %w", ref.Path(), err)
	}
	return Document{DocumentRef: ref, Data: raw}, nil
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Path(), err)
	}
	return nil
}

// DecodeDocuments decodes every document into T, preserving order.
func DecodeDocuments[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := doc.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Operator is a query comparison operator.
type Operator string

// Supported operators.
const (
	OpEqual         Operator = "=="
	OpNotEqual      Operator = "!="
	OpLess          Operator = "<"
	OpLessEqual     Operator = "<="
	OpGreater       Operator = ">"
	OpGreaterEqual  Operator = ">="
	OpIn            Operator = "in"
	OpNotIn         Operator = "not-in"
	OpArrayContains Operator = "array-contains"
)

func (o Operator) valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpIn, OpNotIn, OpArrayContains:
		return true
	}
	return false
}

// Condition filters documents on a JSON field. Field accepts dotted paths
// such as "purchase.vendor".
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

// Where is shorthand for a Condition literal.
func Where(field string, op Operator, value any) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

// OrderBy sorts results on a JSON field.
type OrderBy struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query selects documents from one collection. For nested collections an
// empty ParentID queries across every asset. Setting ID targets a single
// document.
type Query struct {
	Collection EntityType  `json:"collection"`
	ParentID   string      `json:"parent_id,omitempty"`
	ID         string      `json:"id,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	OrderBy    []OrderBy   `json:"order_by,omitempty"`
	Offset     int         `json:"offset,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// Validate checks the query shape.
func (q Query) Validate() error {
	if !q.Collection.Valid() {
		return Invalidf("unknown collection %q", q.Collection)
	}
	if q.ParentID != "" && !q.Collection.Nested() {
		return Invalidf("collection %s is not nested", q.Collection)
	}
	if q.Offset < 0 || q.Limit < 0 {
		return Invalidf("offset and limit must not be negative")
	}
	for _, c := range q.Conditions {
		if strings.TrimSpace(c.Field) == "" {
			return Invalidf("condition field required")
		}
		if !c.Op.valid() {
			return Invalidf("unsupported operator %q", c.Op)
		}
	}
	for _, o := range q.OrderBy {
		if strings.TrimSpace(o.Field) == "" {
			return Invalidf("order field required")
		}
	}
	return nil
}

// ApplyQuery filters, orders and pages docs according to q. Documents from
// other collections are ignored. Without an explicit order, results are
// sorted by id.
func ApplyQuery(docs []Document, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	conds := make([]Condition, len(q.Conditions))
	for i, c := range q.Conditions {
		norm, err := normalizeValue(c.Value)
		if err != nil {
			return nil, Invalidf("condition %s: %v", c.Field, err)
		}
		conds[i] = Condition{Field: c.Field, Op: c.Op, Value: norm}
	}

	type candidate struct {
		doc    Document
		fields map[string]any
	}
	var matched []candidate
	for _, doc := range docs {
		if doc.Collection != q.Collection {
			continue
		}
		if q.ParentID != "" && doc.ParentID != q.ParentID {
			continue
		}
		if q.ID != "" && doc.ID != q.ID {
			continue
		}
		fields, err := decodeFields(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", doc.Path(), err)
		}
		ok := true
		for _, c := range conds {
			if !matches(lookupField(fields, c.Field), c.Op, c.Value) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, candidate{doc: doc, fields: fields})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		for _, o := range q.OrderBy {
			cmp := orderCompare(lookupField(matched[i].fields, o.Field), lookupField(matched[j].fields, o.Field))
			if cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return matched[i].doc.Path() < matched[j].doc.Path()
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]Document, 0, len(matched))
	for _, m := range matched {
		out = append(out, m.doc)
	}
	return out, nil
}

func decodeFields(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// normalizeValue maps a Go value onto the representation produced by
// decoding stored JSON, so typed strings, times and decimals compare
// against document fields directly.
func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func lookupField(fields map[string]any, path string) any {
	var cur any = fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func matches(field any, op Operator, value any) bool {
	switch op {
	case OpEqual:
		return equalValues(field, value)
	case OpNotEqual:
		return !equalValues(field, value)
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		cmp, ok := compareValues(field, value)
		if !ok {
			return false
		}
		switch op {
		case OpLess:
			return cmp < 0
		case OpLessEqual:
			return cmp <= 0
		case OpGreater:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case OpIn, OpNotIn:
		list, ok := value.([]any)
		if !ok {
			return false
		}
		found := false
		for _, candidate := range list {
			if equalValues(field, candidate) {
				found = true
				break
			}
		}
		if op == OpIn {
			return found
		}
		return !found
	case OpArrayContains:
		list, ok := field.([]any)
		if !ok {
			return false
		}
		for _, elem := range list {
			if equalValues(elem, value) {
				return true
			}
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two decoded JSON scalars. Strings holding RFC 3339
// timestamps compare chronologically and numeric strings (decimals)
// numerically.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch av := a.(type) {
	case json.Number:
		ad, err := decimal.NewFromString(av.String())
		if err != nil {
			return 0, false
		}
		bd, ok := asDecimal(b)
		if !ok {
			return 0, false
		}
		return ad.Cmp(bd), true
	case string:
		switch bv := b.(type) {
		case string:
			if at, err := time.Parse(time.RFC3339Nano, av); err == nil {
				if bt, err := time.Parse(time.RFC3339Nano, bv); err == nil {
					return at.Compare(bt), true
				}
			}
			if ad, err := decimal.NewFromString(av); err == nil {
				if bd, err := decimal.NewFromString(bv); err == nil {
					return ad.Cmp(bd), true
				}
			}
			return strings.Compare(av, bv), true
		case json.Number:
			ad, err := decimal.NewFromString(av)
			if err != nil {
				return 0, false
			}
			bd, ok := asDecimal(bv)
			if !ok {
				return 0, false
			}
			return ad.Cmp(bd), true
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(t)
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// orderCompare is a total order used for sorting: nil sorts first and
// incomparable values fall back to their printed form.
func orderCompare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if cmp, ok := compareValues(a, b); ok {
		return cmp
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

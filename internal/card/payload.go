package card

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Source identifies who last wrote a field.
type Source string

const (
	SourceModel Source = "model"
	SourceUser  Source = "user"
)

// FieldClass controls how incoming values for a field are merged.
type FieldClass int

const (
	// ClassPlain fields are replaced outright.
	ClassPlain FieldClass = iota
	// ClassList fields merge by set union with deduplication.
	ClassList
	// ClassNarrative fields replace, retaining the prior value in history.
	ClassNarrative
)

// listFields and narrativeFields classify the well-known card fields.
// Anything not listed is plain-replace. Unknown fields are allowed so
// older payloads keep working after schema additions.
var listFields = map[string]bool{
	"patterns":   true,
	"traits":     true,
	"interests":  true,
	"values":     true,
	"keywords":   true,
	"key_events": true,
}

var narrativeFields = map[string]bool{
	"personality":   true,
	"description":   true,
	"user_feelings": true,
}

// Class returns the merge class for a field name.
func Class(field string) FieldClass {
	if listFields[field] {
		return ClassList
	}
	if narrativeFields[field] {
		return ClassNarrative
	}
	return ClassPlain
}

// Value is a tagged card field value: either free text or a list of strings.
// Its JSON form is a bare string or an array of strings.
type Value struct {
	Text string
	List []string
}

// IsList reports whether the value carries a list.
func (v Value) IsList() bool { return v.List != nil }

// String renders the value for display and prompt injection.
func (v Value) String() string {
	if v.IsList() {
		return strings.Join(v.List, ", ")
	}
	return v.Text
}

// Equal compares two values, order-sensitively for lists.
func (v Value) Equal(o Value) bool {
	if v.IsList() != o.IsList() {
		return false
	}
	if !v.IsList() {
		return strings.TrimSpace(v.Text) == strings.TrimSpace(o.Text)
	}
	if len(v.List) != len(o.List) {
		return false
	}
	for i := range v.List {
		if v.List[i] != o.List[i] {
			return false
		}
	}
	return true
}

// Str builds a text value.
func Str(s string) Value { return Value{Text: s} }

// Strs builds a list value. A nil slice still marks the value as a list.
func Strs(items ...string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{List: items}
}

// MarshalJSON encodes the value as a string or string array.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsList() {
		return json.Marshal(v.List)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts a string, a string array, or any scalar (coerced to text).
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Value{Text: s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		if list == nil {
			list = []string{}
		}
		*v = Value{List: list}
		return nil
	}
	// Models occasionally return numbers or booleans for text fields.
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal card value: %w", err)
	}
	*v = Value{Text: fmt.Sprintf("%v", raw)}
	return nil
}

// FieldMeta is the per-field timestamp record attached to every card field.
type FieldMeta struct {
	FirstSeen   int64  `json:"first_seen"`
	LastUpdated int64  `json:"last_updated"`
	UpdateCount int    `json:"update_count"`
	Source      Source `json:"source"`
}

// Payload is the open key→value document carried by every card, with a
// timestamp record per field and a history of superseded narrative values.
type Payload struct {
	Fields  map[string]Value     `json:"fields"`
	Meta    map[string]FieldMeta `json:"_meta,omitempty"`
	History map[string][]string  `json:"_history,omitempty"`
}

// New creates a payload from initial fields with metadata stamped at now.
func New(fields map[string]Value, source Source, now int64) *Payload {
	p := &Payload{
		Fields:  map[string]Value{},
		Meta:    map[string]FieldMeta{},
		History: map[string][]string{},
	}
	for name, v := range fields {
		p.Fields[name] = v
		p.Meta[name] = FieldMeta{FirstSeen: now, LastUpdated: now, Source: source}
	}
	return p
}

// Decode parses a payload from its stored JSON form.
func Decode(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.Fields == nil {
		p.Fields = map[string]Value{}
	}
	if p.Meta == nil {
		p.Meta = map[string]FieldMeta{}
	}
	if p.History == nil {
		p.History = map[string][]string{}
	}
	return &p, nil
}

// Encode serializes the payload to its stored JSON form.
func (p *Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Merge applies an incoming value to a field using its merge class and,
// when the field actually changes, touches its timestamp record.
// Returns true if the field changed.
func (p *Payload) Merge(field string, incoming Value, source Source, now int64) bool {
	old, exists := p.Fields[field]
	if !exists {
		p.Fields[field] = incoming
		p.Meta[field] = FieldMeta{FirstSeen: now, LastUpdated: now, Source: source}
		return true
	}

	switch Class(field) {
	case ClassList:
		merged, added := unionStrings(asList(old), asList(incoming))
		if !added {
			return false
		}
		p.Fields[field] = Value{List: merged}
	case ClassNarrative:
		if old.Equal(incoming) {
			return false
		}
		if prior := strings.TrimSpace(old.String()); prior != "" {
			p.History[field] = append(p.History[field], prior)
		}
		p.Fields[field] = incoming
	default:
		if old.Equal(incoming) {
			return false
		}
		p.Fields[field] = incoming
	}

	p.Touch(field, source, now)
	return true
}

// Touch updates a field's timestamp record after a write.
func (p *Payload) Touch(field string, source Source, now int64) {
	m, ok := p.Meta[field]
	if !ok {
		p.Meta[field] = FieldMeta{FirstSeen: now, LastUpdated: now, Source: source}
		return
	}
	m.LastUpdated = now
	m.UpdateCount++
	m.Source = source
	p.Meta[field] = m
}

// ResetAll marks every field as user-authored at now. Called on user edits,
// which take precedence over model updates from that point on.
func (p *Payload) ResetAll(now int64) {
	for field := range p.Fields {
		p.Touch(field, SourceUser, now)
	}
}

// asList coerces a value to list form; a text value becomes a single element.
func asList(v Value) []string {
	if v.IsList() {
		return v.List
	}
	if strings.TrimSpace(v.Text) == "" {
		return nil
	}
	return []string{v.Text}
}

// unionStrings merges new items into old, deduplicating case-insensitively
// and preserving order. The second return reports whether anything was added.
func unionStrings(old, incoming []string) ([]string, bool) {
	seen := make(map[string]bool, len(old))
	merged := make([]string, 0, len(old)+len(incoming))
	for _, s := range old {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, s)
	}
	added := false
	for _, s := range incoming {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, s)
		added = true
	}
	return merged, added
}

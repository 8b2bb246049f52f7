package driver

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/mutker/modemstat/internal/errors"
	"github.com/Jeffail/gabs/v2"
)

var numberRe = regexp.MustCompile(`^([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)\s*([A-Za-z/%]*)$`)

var frequencyUnits = map[string]float64{
	"":    1,
	"hz":  1,
	"khz": 1e3,
	"mhz": 1e6,
	"ghz": 1e9,
}

// Child returns the member of an object named key. An exact match wins;
// otherwise keys are compared case-insensitively, since firmware revisions
// disagree on casing. It returns nil when there is no such member.
func Child(c *gabs.Container, key string) *gabs.Container {
	if c == nil {
		return nil
	}
	if _, ok := c.Data().(map[string]any); !ok {
		return nil
	}

	children := c.ChildrenMap()
	if child, ok := children[key]; ok {
		return child
	}

	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if strings.EqualFold(k, key) {
			return children[k]
		}
	}

	return nil
}

// splitNumber separates "  -5.1 dBmV " into "-5.1" and "dBmV".
func splitNumber(s string) (string, string, bool) {
	m := numberRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", "", false
	}

	return m[1], m[2], true
}

// ParseFloat reads a decimal with an optional trailing unit.
func ParseFloat(s string) (float64, error) {
	num, _, ok := splitNumber(s)
	if !ok {
		return 0, fmt.Errorf("not a number")
	}

	return strconv.ParseFloat(num, 64)
}

// ParseInt reads an integer with an optional trailing unit.
func ParseInt(s string) (int64, error) {
	num, _, ok := splitNumber(s)
	if !ok {
		return 0, fmt.Errorf("not a number")
	}

	v, err := strconv.ParseInt(num, 10, 64)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("integer out of range")
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer")
	}
	if !fitsInt64(f) {
		return 0, fmt.Errorf("integer out of range")
	}

	return int64(f), nil
}

// fitsInt64 reports whether f converts to int64 without overflow. 2^63 is
// exactly representable and already out of range.
func fitsInt64(f float64) bool {
	return f >= math.MinInt64 && f < math.MaxInt64
}

// ParseFrequency reads a frequency in Hz. A bare number is taken as Hz.
func ParseFrequency(s string) (int64, error) {
	num, unit, ok := splitNumber(s)
	if !ok {
		return 0, fmt.Errorf("not a number")
	}

	mult, ok := frequencyUnits[strings.ToLower(unit)]
	if !ok {
		return 0, fmt.Errorf("unknown frequency unit %q", unit)
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}

	hz := math.Round(f * mult)
	if !fitsInt64(hz) {
		return 0, fmt.Errorf("frequency out of range")
	}

	return int64(hz), nil
}

// Entry is one channel entry of a section, with accessors that turn
// absence and garbage into MalformedPayloadError.
type Entry struct {
	Section string
	Index   int
	node    *gabs.Container
}

// Entries lists the objects of a section array. An absent or null section
// yields no entries.
func Entries(section string, list *gabs.Container) ([]Entry, error) {
	if list == nil || list.Data() == nil {
		return nil, nil
	}

	items, ok := list.Data().([]any)
	if !ok {
		return nil, &MalformedPayloadError{Section: section, Index: -1, Reason: "expected a list of channels"}
	}

	entries := make([]Entry, 0, len(items))
	for i := range items {
		node := list.Index(i)
		if _, ok := node.Data().(map[string]any); !ok {
			return nil, &MalformedPayloadError{Section: section, Index: i, Reason: "expected an object"}
		}
		entries = append(entries, Entry{Section: section, Index: i, node: node})
	}

	return entries, nil
}

// Single returns the one object of a document that is either a bare object
// or a list holding one object. A bare object gets Index -1.
func Single(section string, doc *gabs.Container) (Entry, error) {
	if doc == nil || doc.Data() == nil {
		return Entry{}, &MalformedPayloadError{Section: section, Index: -1, Reason: "missing"}
	}

	if _, ok := doc.Data().(map[string]any); ok {
		return Entry{Section: section, Index: -1, node: doc}, nil
	}

	entries, err := Entries(section, doc)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, &MalformedPayloadError{Section: section, Index: -1, Reason: "empty"}
	}

	return entries[0], nil
}

// TableEntries turns the rows of a decoded HTML table into entries keyed
// by the header row. Rows shorter than the header are kept; their missing
// cells are reported when read.
func TableEntries(section string, table *gabs.Container) ([]Entry, error) {
	rows := Child(table, "rows")
	if rows == nil {
		return nil, nil
	}

	var grid [][]string
	for _, row := range rows.Children() {
		var cells []string
		for _, cell := range row.Children() {
			s, _ := cell.Data().(string)
			cells = append(cells, s)
		}
		grid = append(grid, cells)
	}
	if len(grid) < 2 {
		return nil, nil
	}

	header := grid[0]
	entries := make([]Entry, 0, len(grid)-1)
	for i, cells := range grid[1:] {
		obj := gabs.New()
		for j, name := range header {
			if j >= len(cells) || name == "" {
				continue
			}
			if _, err := obj.Set(cells[j], name); err != nil {
				return nil, err
			}
		}
		entries = append(entries, Entry{Section: section, Index: i, node: obj})
	}

	return entries, nil
}

// FindTable returns the first decoded HTML table whose title contains
// title, ignoring case.
func FindTable(doc *gabs.Container, title string) *gabs.Container {
	tables := Child(doc, "tables")
	if tables == nil {
		return nil
	}

	for _, t := range tables.Children() {
		got, _ := Child(t, "title").Data().(string)
		if strings.Contains(strings.ToLower(got), strings.ToLower(title)) {
			return t
		}
	}

	return nil
}

func (e Entry) malformed(field string, value any, reason string) *MalformedPayloadError {
	return &MalformedPayloadError{
		Section: e.Section,
		Index:   e.Index,
		Field:   field,
		Value:   render(value),
		Reason:  reason,
	}
}

func render(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}

// Lookup returns the raw value of a field. Null counts as absent.
func (e Entry) Lookup(field string) (any, bool) {
	child := Child(e.node, field)
	if child == nil || child.Data() == nil {
		return nil, false
	}

	return child.Data(), true
}

func (e Entry) Has(field string) bool {
	_, ok := e.Lookup(field)
	return ok
}

// String returns a required text field, trimmed.
func (e Entry) String(field string) (string, error) {
	v, ok := e.Lookup(field)
	if !ok {
		return "", e.malformed(field, nil, "missing")
	}

	s := strings.TrimSpace(render(v))
	if s == "" {
		return "", e.malformed(field, nil, "empty")
	}

	return s, nil
}

// OptionalString returns a text field or "" when absent.
func (e Entry) OptionalString(field string) string {
	v, ok := e.Lookup(field)
	if !ok {
		return ""
	}

	return strings.TrimSpace(render(v))
}

func (e Entry) Float(field string) (float64, error) {
	v, ok := e.Lookup(field)
	if !ok {
		return 0, e.malformed(field, nil, "missing")
	}

	switch value := v.(type) {
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return 0, e.malformed(field, v, "not a number")
		}
		return f, nil
	case float64:
		return value, nil
	case string:
		f, err := ParseFloat(value)
		if err != nil {
			return 0, e.malformed(field, v, err.Error())
		}
		return f, nil
	default:
		return 0, e.malformed(field, v, "not a number")
	}
}

func (e Entry) Int(field string) (int64, error) {
	v, ok := e.Lookup(field)
	if !ok {
		return 0, e.malformed(field, nil, "missing")
	}

	var s string
	switch value := v.(type) {
	case json.Number:
		s = value.String()
	case float64:
		s = strconv.FormatFloat(value, 'f', -1, 64)
	case string:
		s = value
	default:
		return 0, e.malformed(field, v, "not a number")
	}

	n, err := ParseInt(s)
	if err != nil {
		return 0, e.malformed(field, v, err.Error())
	}

	return n, nil
}

// Frequency returns a frequency field in Hz.
func (e Entry) Frequency(field string) (int64, error) {
	v, ok := e.Lookup(field)
	if !ok {
		return 0, e.malformed(field, nil, "missing")
	}

	var s string
	switch value := v.(type) {
	case json.Number:
		s = value.String()
	case float64:
		s = strconv.FormatFloat(value, 'f', -1, 64)
	case string:
		s = value
	default:
		return 0, e.malformed(field, v, "not a number")
	}

	hz, err := ParseFrequency(s)
	if err != nil {
		return 0, e.malformed(field, v, err.Error())
	}

	return hz, nil
}

func (e Entry) Bool(field string) (bool, error) {
	v, ok := e.Lookup(field)
	if !ok {
		return false, e.malformed(field, nil, "missing")
	}

	switch value := v.(type) {
	case bool:
		return value, nil
	case json.Number:
		switch value.String() {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		}
	}

	return false, e.malformed(field, v, "not a boolean")
}

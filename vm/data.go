package vm

import (
	"encoding/csv"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// parseCSV implements CSV_PARSE: the text becomes a list of row lists,
// every field a string.
func parseCSV(text string) (*List, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, Errorf("parse CSV: %v", err)
	}
	rows := NewList()
	for _, record := range records {
		row := NewList()
		for _, field := range record {
			row.Items = append(row.Items, field)
		}
		rows.Items = append(rows.Items, row)
	}
	return rows, nil
}

// stringifyCSV implements CSV_STRINGIFY over a list of rows. Non-string
// fields are formatted first.
func stringifyCSV(v Value) (string, error) {
	rows, ok := v.(*List)
	if !ok {
		return "", Errorf("CSV_STRINGIFY wants a list of rows, got %s", TypeName(v))
	}
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	for _, rv := range rows.Items {
		row, ok := rv.(*List)
		if !ok {
			return "", Errorf("CSV_STRINGIFY row is %s, want list", TypeName(rv))
		}
		record := make([]string, len(row.Items))
		for i, field := range row.Items {
			record[i] = Format(field)
		}
		if err := w.Write(record); err != nil {
			return "", Errorf("stringify CSV: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", Errorf("stringify CSV: %v", err)
	}
	return sb.String(), nil
}

// parseYAML implements YAML_PARSE, lowering the decoded document into
// runtime values.
func parseYAML(text string) (Value, error) {
	var doc any
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, Errorf("parse YAML: %v", err)
	}
	return fromYAML(doc), nil
}

func fromYAML(v any) Value {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, string, int64, float64:
		return x
	case int:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []any:
		lst := NewList()
		for _, it := range x {
			lst.Items = append(lst.Items, fromYAML(it))
		}
		return lst
	case map[string]any:
		m := NewMap()
		for k, val := range x {
			m.Items[k] = fromYAML(val)
		}
		return m
	case map[any]any:
		m := NewMap()
		for k, val := range x {
			key, err := hashableKey(fromYAML(k))
			if err != nil {
				key = Format(k)
			}
			m.Items[key] = fromYAML(val)
		}
		return m
	}
	return Format(v)
}

// stringifyYAML implements YAML_STRINGIFY. Map keys are emitted in
// sorted order so output is stable.
func stringifyYAML(v Value) (string, error) {
	out, err := yaml.Marshal(toYAML(v))
	if err != nil {
		return "", Errorf("stringify YAML: %v", err)
	}
	return string(out), nil
}

func toYAML(v Value) any {
	switch x := v.(type) {
	case *List:
		out := make([]any, len(x.Items))
		for i, it := range x.Items {
			out[i] = toYAML(it)
		}
		return out
	case *Map:
		out := yaml.MapSlice{}
		for _, k := range x.SortedKeys() {
			out = append(out, yaml.MapItem{Key: toYAML(k), Value: toYAML(x.Items[k])})
		}
		return out
	case *Set:
		members := x.SortedMembers()
		out := make([]any, len(members))
		for i, m := range members {
			out[i] = toYAML(m)
		}
		return out
	case *Object:
		out := yaml.MapSlice{}
		keys := make([]string, 0, len(x.Fields))
		for k := range x.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, yaml.MapItem{Key: k, Value: toYAML(x.Fields[k])})
		}
		return out
	}
	return v
}

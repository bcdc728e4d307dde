package remote

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Expand turns a dotted-path field map into a nested document.
func Expand(fields map[string]any) map[string]any {
	doc := make(map[string]any)
	applyFields(doc, fields)
	return doc
}

// applyFields merges fields into doc. Dotted keys descend into nested
// maps, creating them as needed.
func applyFields(doc map[string]any, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// Parents before children, so "a" then "a.b" composes.
	sort.Strings(keys)

	for _, k := range keys {
		v := fields[k]
		parts := strings.Split(k, ".")
		m := doc
		for _, p := range parts[:len(parts)-1] {
			child, ok := m[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				m[p] = child
			}
			m = child
		}
		leaf := parts[len(parts)-1]
		if v == nil {
			delete(m, leaf)
			continue
		}
		m[leaf] = v
	}
}

// normalize resolves ServerTimestamp sentinels to now and converts the
// document to its JSON shape.
func normalize(doc map[string]any, now time.Time) (map[string]any, error) {
	resolved := resolveTimestamps(doc, now)
	raw, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if out == nil {
		out = make(map[string]any)
	}
	return out, nil
}

func resolveTimestamps(doc map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		switch val := v.(type) {
		case serverTimestamp:
			out[k] = now.UTC().Format(time.RFC3339Nano)
		case map[string]any:
			out[k] = resolveTimestamps(val, now)
		default:
			out[k] = v
		}
	}
	return out
}

func matches(data map[string]any, where []Cond) bool {
	for _, c := range where {
		want, err := normalize(map[string]any{"v": c.Value}, time.Time{})
		if err != nil {
			return false
		}
		if compareValues(data[c.Field], want["v"]) != 0 {
			return false
		}
	}
	return true
}

// compareValues orders JSON-shaped values. RFC 3339 strings compare as
// times; nil sorts first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			break
		}
		tx, errx := time.Parse(time.RFC3339Nano, x)
		ty, erry := time.Parse(time.RFC3339Nano, y)
		if errx == nil && erry == nil {
			return tx.Compare(ty)
		}
		return strings.Compare(x, y)
	case float64:
		y, ok := b.(float64)
		if !ok {
			break
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case bool:
		y, ok := b.(bool)
		if !ok {
			break
		}
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// selectDocuments filters and orders docs per q.
func selectDocuments(docs []Document, q Query) []Document {
	out := docs[:0:0]
	for _, d := range docs {
		if matches(d.Data, q.Where) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy == "" {
			return out[i].ID < out[j].ID
		}
		c := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
		if c == 0 {
			return out[i].ID < out[j].ID
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func cloneData(data map[string]any) map[string]any {
	raw, _ := json.Marshal(data)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	if out == nil {
		out = make(map[string]any)
	}
	return out
}

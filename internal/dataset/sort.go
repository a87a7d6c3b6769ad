package dataset

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"district-insights/internal/models"
)

// SortKey orders rows by one column
type SortKey struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc"`
}

// SortSpec is an ordered list of keys; later keys break ties of earlier ones
type SortSpec []SortKey

// ParseSortSpec reads the "math:desc,year" form used by the API and the CLI.
// Only display columns may be sorted on.
func ParseSortSpec(s string) (SortSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var spec SortSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		col, dir, _ := strings.Cut(part, ":")
		col = strings.ToLower(strings.TrimSpace(col))
		if !isDisplayColumn(col) {
			return nil, fmt.Errorf("cannot sort on unknown column %q", col)
		}

		key := SortKey{Column: col}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc":
		case "desc":
			key.Desc = true
		default:
			return nil, fmt.Errorf("invalid sort direction %q for column %q", dir, col)
		}
		spec = append(spec, key)
	}
	return spec, nil
}

// String renders the spec back into its query form
func (s SortSpec) String() string {
	parts := make([]string, len(s))
	for i, k := range s {
		parts[i] = k.Column
		if k.Desc {
			parts[i] += ":desc"
		}
	}
	return strings.Join(parts, ",")
}

// Sort returns a stably sorted copy of rows. An empty spec keeps input order.
func Sort(rows []models.Row, spec SortSpec) []models.Row {
	out := slices.Clone(rows)
	if len(spec) == 0 {
		return out
	}

	slices.SortStableFunc(out, func(a, b models.Row) int {
		for _, key := range spec {
			av, bv := a.Get(key.Column), b.Get(key.Column)

			// nulls trail in both directions
			switch {
			case av.IsNull() && bv.IsNull():
				continue
			case av.IsNull():
				return 1
			case bv.IsNull():
				return -1
			}

			c := CompareValues(av, bv)
			if key.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return out
}

// CompareValues orders two non-null cells. Numbers and numeric-looking
// strings compare numerically and sort before text; text compares lexically.
func CompareValues(a, b models.Value) int {
	af, aNum := numeric(a)
	bf, bNum := numeric(b)

	switch {
	case aNum && bNum:
		return cmp.Compare(af, bf)
	case aNum:
		return -1
	case bNum:
		return 1
	default:
		return strings.Compare(a.String(), b.String())
	}
}

func numeric(v models.Value) (float64, bool) {
	if f, ok := v.Float(); ok {
		return f, true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isDisplayColumn(key string) bool {
	for _, col := range models.DisplayColumns {
		if col.Key == key {
			return true
		}
	}
	return false
}

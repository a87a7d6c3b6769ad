package dataset

import (
	"strings"

	"golang.org/x/text/cases"

	"district-insights/internal/models"
)

// Fold returns the case-folded form of s used for every name and search comparison
func Fold(s string) string {
	// a Caser carries state, so one is built per call
	return cases.Fold().String(s)
}

// SelectEntity returns the rows whose entity field equals name, compared
// case-insensitively. It is an exact match, never a substring match.
func SelectEntity(rows []models.Row, entityField, name string) []models.Row {
	want := Fold(name)
	out := make([]models.Row, 0, len(rows))
	for _, row := range rows {
		v := row.Get(entityField)
		if v.IsNull() {
			continue
		}
		if Fold(v.String()) == want {
			out = append(out, row)
		}
	}
	return out
}

// ApplySearch keeps the rows where at least one display column contains term,
// compared case-insensitively. An empty term returns rows unchanged.
func ApplySearch(rows []models.Row, term string) []models.Row {
	if term == "" {
		return rows
	}

	needle := Fold(term)
	out := make([]models.Row, 0, len(rows))
	for _, row := range rows {
		if rowMatches(row, needle) {
			out = append(out, row)
		}
	}
	return out
}

func rowMatches(row models.Row, needle string) bool {
	for _, col := range models.DisplayColumns {
		if strings.Contains(Fold(row.Get(col.Key).String()), needle) {
			return true
		}
	}
	return false
}

// DistinctEntities lists the entity names present in rows, first spelling wins
func DistinctEntities(rows []models.Row, entityField string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, row := range rows {
		v := row.Get(entityField)
		if v.IsNull() {
			continue
		}
		key := Fold(v.String())
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, v.String())
	}
	return names
}

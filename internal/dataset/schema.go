package dataset

import (
	"math"

	"district-insights/internal/models"
)

// ColumnSchema describes one dataset column and the type inferred for it
type ColumnSchema struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Nulls int    `json:"nulls"`
}

// InferSchema reports, for each header column in order, the narrowest type
// that holds every non-null cell: Int64, Float64, String, or Null when the
// column is empty throughout.
func InferSchema(header []string, rows []models.Row) []ColumnSchema {
	out := make([]ColumnSchema, len(header))
	for i, name := range header {
		out[i] = inferColumn(name, rows)
	}
	return out
}

func inferColumn(name string, rows []models.Row) ColumnSchema {
	col := ColumnSchema{Name: name, DType: "Null"}
	sawInt, sawFloat, sawString := false, false, false

	for _, row := range rows {
		v := row.Get(name)
		if v.IsNull() {
			col.Nulls++
			continue
		}
		f, ok := v.Float()
		switch {
		case !ok:
			sawString = true
		case f == math.Trunc(f):
			sawInt = true
		default:
			sawFloat = true
		}
	}

	switch {
	case sawString:
		col.DType = "String"
	case sawFloat:
		col.DType = "Float64"
	case sawInt:
		col.DType = "Int64"
	}
	return col
}

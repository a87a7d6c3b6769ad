package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the dynamic type of a dataset cell
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
)

// Value is a single dataset cell. Numeric-looking CSV fields become numbers,
// everything else stays a string; empty cells are null.
type Value struct {
	kind Kind
	num  float64
	str  string
}

// Number returns a numeric Value
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a string Value
func String(s string) Value { return Value{kind: KindString, str: s} }

// Null returns the absent Value
func Null() Value { return Value{} }

// ParseValue applies dynamic typing to a raw field. Only finite decimal
// numbers are promoted; "NaN", "Inf" and hex literals stay strings.
func ParseValue(raw string) Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Null()
	}
	if looksNumeric(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) {
			return Number(f)
		}
	}
	// booleans render lowercase
	if s == "true" || s == "false" || s == "TRUE" || s == "FALSE" {
		return String(strings.ToLower(s))
	}
	return String(s)
}

func looksNumeric(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == 'e' || r == 'E':
		case (r == '-' || r == '+') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		default:
			return false
		}
	}
	return digits > 0
}

// Kind reports the dynamic type
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the cell was empty
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float returns the numeric value and whether v is a number
func (v Value) Float() (float64, bool) { return v.num, v.kind == KindNumber }

// String renders the cell the way it is displayed and searched
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	default:
		return ""
	}
}

// MarshalJSON emits numbers as JSON numbers, strings as strings, and null
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON is the inverse of MarshalJSON
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case float64:
		*v = Number(x)
	case string:
		*v = String(x)
	case nil:
		*v = Null()
	default:
		*v = String(string(data))
	}
	return nil
}

// Row is one dataset record keyed by column name
type Row map[string]Value

// Get returns the cell for column, Null when the column is absent
func (r Row) Get(column string) Value {
	if r == nil {
		return Null()
	}
	return r[column]
}

// Column is a display column of the district table
type Column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// DisplayColumns is the fixed, ordered set of columns shown, searched and sorted
var DisplayColumns = []Column{
	{Key: "grade", Label: "Grade"},
	{Key: "year", Label: "Year"},
	{Key: "math", Label: "Math Score"},
	{Key: "rla", Label: "Reading Score"},
}

// FeatureNames holds the ordered feature labels returned after a district is selected
type FeatureNames struct {
	TopLevel    []string `json:"topLevelFeatures"`
	BottomLevel []string `json:"bottomLevelFeatures"`
}

// Prediction is the backend's three percentage-change figures, kept verbatim
type Prediction struct {
	DistrictPercentIncrease         string `json:"districtPercentIncrease"`
	SimilarDistrictsPercentIncrease string `json:"similarDistrictsPercentIncrease"`
	StatePercentIncrease            string `json:"statePercentIncrease"`
}

// NotAvailable is rendered in place of a missing prediction figure
const NotAvailable = "N/A"

// Display returns the three figures with N/A substituted for blanks
func (p *Prediction) Display() Prediction {
	if p == nil {
		return Prediction{NotAvailable, NotAvailable, NotAvailable}
	}
	orNA := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return NotAvailable
		}
		return s
	}
	return Prediction{
		DistrictPercentIncrease:         orNA(p.DistrictPercentIncrease),
		SimilarDistrictsPercentIncrease: orNA(p.SimilarDistrictsPercentIncrease),
		StatePercentIncrease:            orNA(p.StatePercentIncrease),
	}
}

// DistrictScore is one ingested dataset row persisted in district_scores
type DistrictScore struct {
	ID           int64     `json:"id" db:"id"`
	DistrictName string    `json:"district_name" db:"district_name"`
	Grade        *float64  `json:"grade,omitempty" db:"grade"`
	Year         *int      `json:"year,omitempty" db:"year"`
	Math         *float64  `json:"math,omitempty" db:"math"`
	RLA          *float64  `json:"rla,omitempty" db:"rla"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ToRow converts a persisted score back into a dataset row under entityField
func (s *DistrictScore) ToRow(entityField string) Row {
	row := Row{entityField: String(s.DistrictName)}
	opt := func(key string, f *float64) {
		if f != nil {
			row[key] = Number(*f)
		} else {
			row[key] = Null()
		}
	}
	opt("grade", s.Grade)
	opt("math", s.Math)
	opt("rla", s.RLA)
	if s.Year != nil {
		row["year"] = Number(float64(*s.Year))
	} else {
		row["year"] = Null()
	}
	return row
}

// ScoreFromRow extracts the persisted columns from a dataset row. Rows
// without a district name are rejected.
func ScoreFromRow(row Row, entityField string) (*DistrictScore, error) {
	name := strings.TrimSpace(row.Get(entityField).String())
	if name == "" {
		return nil, &ValidationError{
			Field:   entityField,
			Message: "row has no district name",
		}
	}

	score := &DistrictScore{
		DistrictName: name,
		CreatedAt:    time.Now().UTC(),
	}

	num := func(key string) (*float64, error) {
		v := row.Get(key)
		if v.IsNull() {
			return nil, nil
		}
		f, ok := v.Float()
		if !ok {
			return nil, &ValidationError{Field: key, Value: v.String(), Message: key + " is not numeric"}
		}
		return &f, nil
	}

	var err error
	if score.Grade, err = num("grade"); err != nil {
		return nil, err
	}
	if score.Math, err = num("math"); err != nil {
		return nil, err
	}
	if score.RLA, err = num("rla"); err != nil {
		return nil, err
	}
	year, err := num("year")
	if err != nil {
		return nil, err
	}
	if year != nil {
		y := int(*year)
		if float64(y) != *year {
			return nil, &ValidationError{Field: "year", Value: row.Get("year").String(), Message: "year is not a whole number"}
		}
		score.Year = &y
	}

	return score, nil
}

// DistrictStatistics holds pre-calculated yearly averages for one district
type DistrictStatistics struct {
	ID           int64     `json:"id" db:"id"`
	DistrictName string    `json:"district_name" db:"district_name"`
	Year         int       `json:"year" db:"year"`
	AvgMath      *float64  `json:"avg_math,omitempty" db:"avg_math"`
	AvgRLA       *float64  `json:"avg_rla,omitempty" db:"avg_rla"`
	RowCount     int       `json:"row_count" db:"row_count"`
	ValidMath    int       `json:"valid_math_count" db:"valid_math_count"`
	ValidRLA     int       `json:"valid_rla_count" db:"valid_rla_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Submission is the audit record of one completed adjust-and-predict cycle
type Submission struct {
	ID           string          `json:"id" db:"id"`
	SessionID    string          `json:"session_id" db:"session_id"`
	DistrictName string          `json:"district_name" db:"district_name"`
	FeatureKeys  []string        `json:"feature_keys" db:"-"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	Prediction   *Prediction     `json:"prediction,omitempty" db:"-"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

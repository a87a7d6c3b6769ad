package adjustment

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Slot counts of the two input groups
const (
	DistrictSlots = 10
	GradeSlots    = 2
)

// Field prefixes used when the groups are renamed before re-keying
const (
	DistrictPrefix = "district_"
	GradePrefix    = "grade_"
)

// Per-field validation messages
const (
	MsgRequired  = "This field is required."
	MsgNotNumber = "Must be a number"
)

// State is the lifecycle of a form group
type State int

const (
	Editing State = iota
	Valid
	Invalid
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "editing"
	}
}

// Values are the canonical slot values of a group, in slot order
type Values []string

// Validator is implemented by anything that can check its own inputs and
// hand back canonical values. A failed check returns a *ValidationFailure.
type Validator interface {
	Validate() (Values, error)
}

// FieldError is the message attached to one invalid slot
type FieldError struct {
	Field   string `json:"field"`
	Index   int    `json:"index"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidationFailure lists the invalid slots of a group
type ValidationFailure struct {
	Group  string       `json:"group"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationFailure) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("%s: %s: %s", e.Group, e.Fields[0].Field, e.Fields[0].Message)
	}
	return fmt.Sprintf("%s: %d invalid fields", e.Group, len(e.Fields))
}

// IsTransient returns false, the user has to correct the input
func (e *ValidationFailure) IsTransient() bool {
	return false
}

// Failures collects every *ValidationFailure in err, including the ones
// combined with errors.Join, in order
func Failures(err error) []*ValidationFailure {
	var out []*ValidationFailure
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if f, ok := err.(*ValidationFailure); ok {
			out = append(out, f)
			return
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
			return
		}
		walk(errors.Unwrap(err))
	}
	walk(err)
	return out
}

// ValidateSlot checks a single slot value and returns the message for the
// first rule it breaks, or "" when the value is acceptable.
func ValidateSlot(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return MsgRequired
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return MsgNotNumber
	}
	return ""
}

// Group is a fixed-size set of string inputs validated together.
// It is not safe for concurrent use.
type Group struct {
	name   string
	prefix string
	values []string
	state  State
	errs   []FieldError
}

// NewGroup creates a group of size empty slots
func NewGroup(name, prefix string, size int) *Group {
	return &Group{
		name:   name,
		prefix: prefix,
		values: make([]string, size),
	}
}

// NewDistrictGroup is the ten-slot district-level group
func NewDistrictGroup() *Group { return NewGroup("district", DistrictPrefix, DistrictSlots) }

// NewGradeGroup is the two-slot grade-level group
func NewGradeGroup() *Group { return NewGroup("grade", GradePrefix, GradeSlots) }

// Name returns the group name
func (g *Group) Name() string { return g.name }

// Prefix returns the key prefix of the group's fields
func (g *Group) Prefix() string { return g.prefix }

// Size returns the number of slots
func (g *Group) Size() int { return len(g.values) }

// State returns the current lifecycle state
func (g *Group) State() State { return g.state }

// Errors returns the field errors of the last failed validation
func (g *Group) Errors() []FieldError {
	return append([]FieldError(nil), g.errs...)
}

// FieldKey is the renamed key of slot i, e.g. district_feature3
func (g *Group) FieldKey(i int) string {
	return fmt.Sprintf("%sfeature%d", g.prefix, i+1)
}

// Set writes slot i and returns the group to editing
func (g *Group) Set(i int, v string) error {
	if i < 0 || i >= len(g.values) {
		return fmt.Errorf("%s slot %d out of range [0,%d)", g.name, i, len(g.values))
	}
	g.values[i] = v
	g.state = Editing
	return nil
}

// Fill overwrites the slots from values in order. Extra values are ignored
// and missing ones leave their slots untouched.
func (g *Group) Fill(values []string) {
	copy(g.values, values)
	g.state = Editing
	g.errs = nil
}

// Values returns a copy of the current slot contents
func (g *Group) Values() Values {
	return append(Values(nil), g.values...)
}

// Labels maps each slot to the feature name at the same position, falling
// back to "Feature N" when names runs short.
func (g *Group) Labels(names []string) []string {
	labels := make([]string, len(g.values))
	for i := range labels {
		if i < len(names) && strings.TrimSpace(names[i]) != "" {
			labels[i] = names[i]
		} else {
			labels[i] = fmt.Sprintf("Feature %d", i+1)
		}
	}
	return labels
}

// Validate checks every slot. On success the slots are reset to their
// trimmed canonical values and returned.
func (g *Group) Validate() (Values, error) {
	var errs []FieldError
	for i, v := range g.values {
		if msg := ValidateSlot(v); msg != "" {
			errs = append(errs, FieldError{
				Field:   g.FieldKey(i),
				Index:   i,
				Value:   v,
				Message: msg,
			})
		}
	}

	if len(errs) > 0 {
		g.state = Invalid
		g.errs = errs
		return nil, &ValidationFailure{Group: g.name, Fields: errs}
	}

	canonical := make(Values, len(g.values))
	for i, v := range g.values {
		canonical[i] = strings.TrimSpace(v)
	}
	g.values = append([]string(nil), canonical...)
	g.state = Valid
	g.errs = nil
	return canonical, nil
}

package adjustment

import (
	"bytes"
	"encoding/json"
	"strings"

	"district-insights/internal/models"
)

// FeatureKey turns a feature label into a payload key, one underscore per space
func FeatureKey(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

// FeatureKeys is the ordered key sequence the submitted values are zipped
// against: top-level names followed by bottom-level names.
func FeatureKeys(top, bottom []string) []string {
	keys := make([]string, 0, len(top)+len(bottom))
	for _, n := range top {
		keys = append(keys, FeatureKey(n))
	}
	for _, n := range bottom {
		keys = append(keys, FeatureKey(n))
	}
	return keys
}

// Entry is one key/value pair of a payload
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Payload is the ordered adjustment map sent to the predictor
type Payload []Entry

// Renamed returns values as entries keyed prefix+featureN
func Renamed(prefix string, values Values) []Entry {
	g := Group{prefix: prefix}
	out := make([]Entry, len(values))
	for i, v := range values {
		out[i] = Entry{Key: g.FieldKey(i), Value: v}
	}
	return out
}

// Zip pairs keys with values by position. The result has
// min(len(keys), len(values)) entries; the surplus of either side is dropped.
func Zip(keys []string, values []string) Payload {
	n := min(len(keys), len(values))
	out := make(Payload, n)
	for i := 0; i < n; i++ {
		out[i] = Entry{Key: keys[i], Value: values[i]}
	}
	return out
}

// BuildPayload renames the district values then the grade values, and
// re-keys the concatenation positionally against the feature names.
func BuildPayload(district, grade Values, names models.FeatureNames) Payload {
	renamed := append(Renamed(DistrictPrefix, district), Renamed(GradePrefix, grade)...)
	values := make([]string, len(renamed))
	for i, e := range renamed {
		values[i] = e.Value
	}
	return Zip(FeatureKeys(names.TopLevel, names.BottomLevel), values)
}

// Keys returns the payload keys in order
func (p Payload) Keys() []string {
	keys := make([]string, len(p))
	for i, e := range p {
		keys[i] = e.Key
	}
	return keys
}

// Map returns the payload as a plain map
func (p Payload) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, e := range p {
		m[e.Key] = e.Value
	}
	return m
}

// Get returns the value stored under key
func (p Payload) Get(key string) (string, bool) {
	for _, e := range p {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// MarshalJSON writes a JSON object whose members keep the payload order.
// Duplicate feature names keep their last value, as a decoded object would.
func (p Payload) MarshalJSON() ([]byte, error) {
	last := make(map[string]int, len(p))
	for i, e := range p {
		last[e.Key] = i
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for i, e := range p {
		if last[e.Key] != i {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

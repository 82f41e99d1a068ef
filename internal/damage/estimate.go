package damage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OperationRepair is the only operation that carries labor hours.
const OperationRepair = "Repair"

// Operation is a single line of an estimate.
type Operation struct {
	Description string   `json:"Description"`
	Operation   string   `json:"Operation"`
	LaborHours  *float64 `json:"LaborHours,omitempty"`
	PartID      string   `json:"PartId"`
}

// operationJSON is the wire shape. PartId is always emitted, empty when
// the part could not be resolved.
type operationJSON struct {
	Description string   `json:"Description"`
	Operation   string   `json:"Operation"`
	LaborHours  *float64 `json:"LaborHours,omitempty"`
	PartID      string   `json:"PartId"`
}

func (o Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(operationJSON{
		Description: o.Description,
		Operation:   o.Operation,
		LaborHours:  o.LaborHours,
		PartID:      o.PartID,
	})
}

// UnmarshalJSON accepts the spellings found in stored estimates
// ("LabourHours", lower-case keys, numeric part ids) so downstream code
// only ever sees one shape.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("operation: %w", err)
	}

	*o = Operation{}
	o.Description = firstString(raw, "Description", "description")
	o.Operation = firstString(raw, "Operation", "operation")
	o.PartID = firstString(raw, "PartId", "PartID", "part_id")

	for _, key := range []string{"LaborHours", "LabourHours", "labor_hours"} {
		v, ok := raw[key]
		if !ok || string(v) == "null" {
			continue
		}
		h, err := parseFloat(v)
		if err != nil {
			return fmt.Errorf("operation %q: %s: %w", o.Description, key, err)
		}
		o.LaborHours = &h
		break
	}
	return nil
}

// firstString returns the first key present, decoding JSON strings and
// numbers alike.
func firstString(raw map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || string(v) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

func parseFloat(v json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// Estimate maps a part category to its operations.
type Estimate map[string][]Operation

// Empty reports whether the estimate has no categories.
func (e Estimate) Empty() bool { return len(e) == 0 }

// Categories returns the category names sorted.
func (e Estimate) Categories() []string {
	names := make([]string, 0, len(e))
	for k := range e {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// OperationCount is the total number of lines across all categories.
func (e Estimate) OperationCount() int {
	n := 0
	for _, ops := range e {
		n += len(ops)
	}
	return n
}

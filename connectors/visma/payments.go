package visma

import (
	"fmt"
	"sort"

	"github.com/spf13/cast"

	"github.com/spec-sa/netsync/connectors"
)

// paymentsConfig maps NetTime results to Visma pay element concepts.
type paymentsConfig struct {
	EmployeeField string            `mapstructure:"employee_field"`
	Concepts      map[string]string `mapstructure:"concepts"`
	PerDay        bool              `mapstructure:"per_day"`
}

type payElement struct {
	EmployeeID string  `json:"employeeId"`
	Concept    string  `json:"payElementId"`
	Value      float64 `json:"value"`
	DateFrom   string  `json:"dateFrom"`
	DateTo     string  `json:"dateTo"`
}

// payElements reads the result syncs produced by NetTime: one record per sync
// with from, to and data, each data item holding employee, totals and
// optionally a per day frame. Zero values are not sent.
func payElements(syncs []connectors.Record, cfg paymentsConfig) ([]payElement, error) {
	if len(cfg.Concepts) == 0 {
		return nil, fmt.Errorf("sync_cfgs: no concepts configured")
	}
	employeeField := cfg.EmployeeField
	if employeeField == "" {
		employeeField = "employeeCode"
	}

	var elements []payElement
	for _, sync := range syncs {
		from, to := cast.ToString(sync["from"]), cast.ToString(sync["to"])
		data, err := cast.ToSliceE(sync["data"])
		if err != nil {
			return nil, fmt.Errorf("sync %v: data: %w", sync["sync_id"], err)
		}

		for _, item := range data {
			row, err := cast.ToStringMapE(item)
			if err != nil {
				return nil, fmt.Errorf("sync %v: data item: %w", sync["sync_id"], err)
			}
			employee := cast.ToStringMap(row["employee"])
			employeeID := cast.ToString(employee[employeeField])
			if employeeID == "" {
				return nil, fmt.Errorf("sync %v: result without %s", sync["sync_id"], employeeField)
			}

			if cfg.PerDay {
				frame := cast.ToStringMap(row["frame"])
				for _, date := range sortedKeys(frame) {
					values := cast.ToStringMap(frame[date])
					elements = appendConcepts(elements, cfg.Concepts, values, employeeID, date, date)
				}
				continue
			}
			totals := cast.ToStringMap(row["totals"])
			elements = appendConcepts(elements, cfg.Concepts, totals, employeeID, from, to)
		}
	}
	return elements, nil
}

func appendConcepts(elements []payElement, concepts map[string]string, values map[string]any, employeeID, from, to string) []payElement {
	for _, result := range sortedKeys(values) {
		concept, ok := concepts[result]
		if !ok {
			continue
		}
		value := cast.ToFloat64(values[result])
		if value == 0 {
			continue
		}
		elements = append(elements, payElement{
			EmployeeID: employeeID,
			Concept:    concept,
			Value:      value,
			DateFrom:   from,
			DateTo:     to,
		})
	}
	return elements
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package nettime6

import (
	"context"
	"fmt"
	"net/url"

	"github.com/araddon/dateparse"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/spec-sa/netsync/connectors"
)

var (
	defaultSyncFilterExp = `(this.type="net_sync" && this.nsSynchronized=false)`
	defaultSyncFields    = []string{
		"id", "name", "type",
		"nsDateFrom", "nsDateTo", "nsDateZImp",
		"nsFilter", "nsSynchronized", "nsFieldView",
	}
)

type resultSyncsOptions struct {
	Results        []string `mapstructure:"results"`
	EmployeeFields []string `mapstructure:"employee_fields"`
	PerDay         *bool    `mapstructure:"per_day"`
	NamedTotals    *bool    `mapstructure:"named_totals"`
	Transpose      *bool    `mapstructure:"transpose"`
	SyncContainer  string   `mapstructure:"sync_container"`
	SyncFields     []string `mapstructure:"sync_fields"`
	SyncFilterExp  string   `mapstructure:"sync_filterExp"`
	Fields         any      `mapstructure:"fields"`

	Extra map[string]any `mapstructure:",remain"`
}

func (o *resultSyncsOptions) defaults() {
	o.SyncContainer = lo.CoalesceOrEmpty(o.SyncContainer, "Custom")
	o.SyncFilterExp = lo.CoalesceOrEmpty(o.SyncFilterExp, defaultSyncFilterExp)
	if len(o.SyncFields) == 0 {
		o.SyncFields = defaultSyncFields
	}
	o.PerDay = lo.CoalesceOrEmpty(o.PerDay, lo.ToPtr(true))
	o.NamedTotals = lo.CoalesceOrEmpty(o.NamedTotals, lo.ToPtr(true))
	o.Transpose = lo.CoalesceOrEmpty(o.Transpose, lo.ToPtr(true))
}

// getResultSyncs reads the pending result syncs configured in NetTime,
// fetches the cube results of each and marks them synchronized.
func (s *session) getResultSyncs(ctx context.Context, _ []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	var opts resultSyncsOptions
	if err := connectors.DecodeParams(kw, &opts); err != nil {
		return nil, err
	}
	opts.defaults()

	container := url.PathEscape(opts.SyncContainer)
	total, syncs, err := s.query(ctx, "api/container/"+container+"/query", opts.SyncFields, opts.SyncFilterExp)
	if err != nil {
		return nil, fmt.Errorf("querying pending syncs: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	out := make([]connectors.Record, 0, len(syncs))
	for _, sync := range syncs {
		record, err := s.resultSync(ctx, sync, opts)
		if err != nil {
			return nil, fmt.Errorf("result sync %s: %w", sync.Get("id").String(), err)
		}
		out = append(out, record)

		saved, err := sjson.SetBytes([]byte(sync.Raw), "nsSynchronized", true)
		if err != nil {
			return nil, fmt.Errorf("marking sync: %w", err)
		}
		if _, err := s.client.Post(ctx, "api/container/"+container+"/"+url.PathEscape(sync.Get("id").String()), saved); err != nil {
			return nil, fmt.Errorf("saving sync %s: %w", sync.Get("id").String(), err)
		}
		s.log.Infon("Result sync marked synchronized", logger.NewStringField("syncName", sync.Get("name").String()))
	}
	return out, nil
}

func (s *session) resultSync(ctx context.Context, sync gjson.Result, opts resultSyncsOptions) (connectors.Record, error) {
	dateIni, err := isoDate(sync.Get("nsDateFrom").String())
	if err != nil {
		return nil, fmt.Errorf("nsDateFrom: %w", err)
	}
	dateEnd, err := isoDate(sync.Get("nsDateTo").String())
	if err != nil {
		return nil, fmt.Errorf("nsDateTo: %w", err)
	}

	dimensions := [][]string{opts.EmployeeFields, opts.Results}
	if *opts.PerDay {
		dimensions = append(dimensions, []string{"date"})
	}
	params := map[string]any{}
	for k, v := range opts.Extra {
		params[k] = v
	}
	params["dateIni"] = dateIni
	params["dateEnd"] = dateEnd
	params["dimensions"] = dimensions
	if filter := sync.Get("nsFilter"); filter.Exists() {
		params["filters"] = []map[string]any{{"id": filter.Value(), "op": "AND"}}
	}

	cube, err := s.client.Post(ctx, "api/results/cube", params)
	if err != nil {
		return nil, fmt.Errorf("getting cube results: %w", err)
	}

	data := make([]map[string]any, 0)
	for _, result := range cube.Array() {
		data = append(data, resultStructure(result, opts))
	}

	return connectors.Record{
		"sync_id":   sync.Get("id").Value(),
		"sync_name": sync.Get("name").Value(),
		"sync_type": sync.Get("type").Value(),
		"from":      dateIni,
		"to":        dateEnd,
		"data":      data,
	}, nil
}

// resultStructure shapes one cube row as employee, totals and an optional
// per day frame.
func resultStructure(result gjson.Result, opts resultSyncsOptions) map[string]any {
	values := result.Get("values").Array()
	dimKey := result.Get("dimKey").Array()

	employee := make(map[string]any, len(opts.EmployeeFields))
	for i, field := range opts.EmployeeFields {
		if i < len(dimKey) {
			employee[field] = dimKey[i].Value()
		}
	}

	structure := map[string]any{"employee": employee}
	if *opts.NamedTotals {
		totals := make(map[string]any, len(opts.Results))
		for i, name := range opts.Results {
			if i < len(values) {
				totals[name] = values[i].Value()
			}
		}
		structure["totals"] = totals
	} else {
		structure["totals"] = result.Get("values").Value()
	}

	if children := result.Get("children"); children.Exists() {
		frame := map[string]any{}
		for _, child := range children.Array() {
			date := child.Get("dimKey.0").String()
			for i, value := range child.Get("values").Array() {
				if i >= len(opts.Results) {
					break
				}
				outer, inner := date, opts.Results[i]
				if !*opts.Transpose {
					outer, inner = inner, outer
				}
				row, ok := frame[outer].(map[string]any)
				if !ok {
					row = map[string]any{}
					frame[outer] = row
				}
				row[inner] = value.Value()
			}
		}
		structure["frame"] = frame
	}
	return structure
}

func isoDate(s string) (string, error) {
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}

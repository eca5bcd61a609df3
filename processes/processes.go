// Package processes runs the custom steps of a sync as Rego policies in an
// embedded OPA sandbox.
package processes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/types"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/internal/model"
	"github.com/spec-sa/netsync/mapping"
	"github.com/spec-sa/netsync/utils/logfield"
)

const (
	builtinNamespace = "netsync."
	// value, args and kwargs
	builtinArity = 3
)

var (
	ErrInvalidProcess = errors.New("invalid process")
	ErrUndefined      = errors.New("process rule is undefined")

	ruleName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// builtins a step can never call, whatever its requirements.
	deniedBuiltins = []string{"http.send", "opa.runtime", "trace", "time.now_ns"}
	deniedPrefixes = []string{"net.", "rand."}
)

// Chain applies the processes of a sync in ascending order. Compiled steps are
// kept for the lifetime of the chain.
type Chain struct {
	lib mapping.Library
	log logger.Logger

	mu       sync.Mutex
	prepared map[string]rego.PreparedEvalQuery
}

func NewChain(lib mapping.Library, log logger.Logger) *Chain {
	return &Chain{
		lib:      lib,
		log:      log,
		prepared: map[string]rego.PreparedEvalQuery{},
	}
}

// Execute feeds payload through every process of s; each rule value is the
// next step's payload.
func (c *Chain) Execute(ctx context.Context, s model.Sync, payload []map[string]any) ([]map[string]any, error) {
	steps := append([]model.SyncProcess(nil), s.Processes...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	for _, process := range steps {
		query, err := c.prepare(ctx, process)
		if err != nil {
			return nil, fmt.Errorf("process %q: %w", process.Name, err)
		}
		out, err := c.eval(ctx, query, s, payload)
		if err != nil {
			return nil, fmt.Errorf("process %q: %w", process.Name, err)
		}
		c.log.Debugn("Process applied",
			logger.NewStringField(logfield.Process, process.Name),
			logger.NewIntField(logfield.Records, int64(len(out))),
		)
		payload = out
	}
	return payload, nil
}

func packagePath(process model.SyncProcess) string {
	return fmt.Sprintf("netsync.process.step%d", process.Order)
}

func cacheKey(process model.SyncProcess) string {
	return fmt.Sprintf("%d/%d/%s", process.ID, process.Order, process.Name)
}

func (c *Chain) prepare(ctx context.Context, process model.SyncProcess) (rego.PreparedEvalQuery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(process)
	if query, ok := c.prepared[key]; ok {
		return query, nil
	}

	if !ruleName.MatchString(process.Name) {
		return rego.PreparedEvalQuery{}, fmt.Errorf("%w: rule name %q", ErrInvalidProcess, process.Name)
	}
	builtins, err := c.builtins(process.Requirements)
	if err != nil {
		return rego.PreparedEvalQuery{}, err
	}

	pkg := packagePath(process)
	options := append([]func(*rego.Rego){
		rego.Query("data." + pkg + "." + process.Name),
		rego.Module(pkg+".rego", "package "+pkg+"\n\n"+process.Expression),
		rego.UnsafeBuiltins(unsafeBuiltins()),
		rego.StrictBuiltinErrors(true),
	}, builtins...)

	query, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("%w: compiling: %w", ErrInvalidProcess, err)
	}
	c.prepared[key] = query
	return query, nil
}

// builtins exposes each required transformation function as netsync.<name>(value, args, kwargs).
func (c *Chain) builtins(requirements string) ([]func(*rego.Rego), error) {
	var out []func(*rego.Rego)
	for _, name := range strings.Split(requirements, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		fn, err := c.lib.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("%w: requirement %q: %w", ErrInvalidProcess, name, err)
		}

		out = append(out, rego.FunctionDyn(&rego.Function{
			Name: builtinNamespace + name,
			Decl: types.NewFunction(
				types.Args(
					types.A,
					types.NewArray(nil, types.A),
					types.NewObject(nil, &types.DynamicProperty{Key: types.S, Value: types.A}),
				),
				types.A,
			),
			Memoize: true,
		}, func(_ rego.BuiltinContext, terms []*ast.Term) (*ast.Term, error) {
			// the last term is the output variable
			if len(terms) < builtinArity {
				return nil, fmt.Errorf("%s: expected %d operands, got %d", builtinNamespace+name, builtinArity, len(terms))
			}
			values := make([]any, builtinArity)
			for i, term := range terms[:builtinArity] {
				v, err := ast.ValueToInterface(term.Value, nil)
				if err != nil {
					return nil, err
				}
				values[i] = normalize(v)
			}
			args, _ := values[1].([]any)
			kwargs, _ := values[2].(map[string]any)

			result, err := fn(values[0], args, kwargs)
			if err != nil {
				return nil, err
			}
			value, err := ast.InterfaceToValue(result)
			if err != nil {
				return nil, err
			}
			return ast.NewTerm(value), nil
		}))
	}
	return out, nil
}

func unsafeBuiltins() map[string]struct{} {
	unsafe := map[string]struct{}{}
	for _, name := range deniedBuiltins {
		unsafe[name] = struct{}{}
	}
	for _, builtin := range ast.CapabilitiesForThisVersion().Builtins {
		for _, prefix := range deniedPrefixes {
			if strings.HasPrefix(builtin.Name, prefix) {
				unsafe[builtin.Name] = struct{}{}
			}
		}
	}
	return unsafe
}

func (c *Chain) eval(ctx context.Context, query rego.PreparedEvalQuery, s model.Sync, payload []map[string]any) ([]map[string]any, error) {
	if payload == nil {
		payload = []map[string]any{}
	}
	input := map[string]any{
		"payload": payload,
		"sync": map[string]any{
			"id":          s.ID,
			"synchronize": string(s.Synchronize),
			"origin":      string(s.Origin.Application),
			"destiny":     string(s.Destiny.Application),
		},
	}

	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, ErrUndefined
	}

	items, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: result must be a list of objects, got %T", ErrInvalidProcess, rs[0].Expressions[0].Value)
	}
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		record, ok := normalize(item).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: result item %d is %T, not an object", ErrInvalidProcess, i, item)
		}
		out = append(out, record)
	}
	return out, nil
}

// normalize turns the json.Number values OPA produces into int64 or float64.
func normalize(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		for i := range v {
			v[i] = normalize(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = normalize(v[k])
		}
		return v
	default:
		return v
	}
}

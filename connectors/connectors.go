//go:generate mockgen -destination=../mocks/connectors/mock_connectors.go -package=mock_connectors github.com/spec-sa/netsync/connectors Connector,Session

// Package connectors resolves the applications a sync moves data between and
// dispatches calls to their adapters.
package connectors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"
)

var (
	ErrNotSupported  = errors.New("job type not supported between applications")
	ErrUnknownMethod = errors.New("unknown connector method")
)

// DefaultLastRun is handed to connectors when a sync never succeeded, so the
// first run extracts everything.
var DefaultLastRun = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type (
	Record = map[string]any
	Params = map[string]any
)

// Method is a capability of an open session. Getters ignore in, deliveries
// consume it and may return nil.
type Method func(ctx context.Context, in []Record, kw Params) ([]Record, error)

type Session interface {
	Method(name string) (Method, bool)
	Close() error
}

type Connector interface {
	Name() string
	Methods() []string
	Open(ctx context.Context, creds Credentials, lastRun time.Time) (Session, error)
}

// Credentials are the parameters of a credential keyed by name.
type Credentials map[string]string

func (c Credentials) Get(key string) string {
	return c[key]
}

// Require fails listing every key that is missing or empty.
func (c Credentials) Require(keys ...string) error {
	missing := lo.Filter(keys, func(key string, _ int) bool {
		return c[key] == ""
	})
	if len(missing) > 0 {
		return fmt.Errorf("missing credential parameters: %v", missing)
	}
	return nil
}

func (c Credentials) Int(key string, def int) (int, error) {
	v, ok := c[key]
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("credential parameter %q: %w", key, err)
	}
	return i, nil
}

// Methods is a session backed by a map of methods.
type Methods map[string]Method

func (m Methods) Method(name string) (Method, bool) {
	fn, ok := m[name]
	return fn, ok
}

// Names returns the method names in lexical order.
func (m Methods) Names() []string {
	names := lo.Keys(m)
	sort.Strings(names)
	return names
}

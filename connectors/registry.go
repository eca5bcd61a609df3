package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/spec-sa/netsync/internal/model"
)

// Registry binds the capability table to the registered connectors.
type Registry struct {
	table      Table
	connectors map[string]Connector
	timeout    time.Duration
	closeGrace time.Duration
}

// DefaultCloseGrace is how long Close waits for a call abandoned on timeout.
const DefaultCloseGrace = 10 * time.Second

type Opt func(*Registry)

// WithCloseGrace sets how long closing a session waits for a method call that
// outlived its timeout.
func WithCloseGrace(grace time.Duration) Opt {
	return func(r *Registry) {
		r.closeGrace = grace
	}
}

// WithTimeout bounds every method call. Zero leaves calls unbounded.
func WithTimeout(timeout time.Duration) Opt {
	return func(r *Registry) {
		r.timeout = timeout
	}
}

// NewRegistry fails unless every entry of the table names a registered
// connector exposing the entry's method.
func NewRegistry(table Table, connectors []Connector, opts ...Opt) (*Registry, error) {
	r := &Registry{
		table:      table,
		connectors: make(map[string]Connector, len(connectors)),
		closeGrace: DefaultCloseGrace,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, c := range connectors {
		if _, ok := r.connectors[c.Name()]; ok {
			return nil, fmt.Errorf("connector %q registered twice", c.Name())
		}
		r.connectors[c.Name()] = c
	}

	var errs []error
	check := func(jobType model.JobType, direction string, app model.Application, capability Capability) {
		c, ok := r.connectors[capability.Connector]
		if !ok {
			errs = append(errs, fmt.Errorf("%s %s %s: connector %q not registered", jobType, direction, app, capability.Connector))
			return
		}
		if !lo.Contains(c.Methods(), capability.Method) {
			errs = append(errs, fmt.Errorf("%s %s %s: connector %q has no method %q", jobType, direction, app, capability.Connector, capability.Method))
		}
	}
	for jobType, capabilities := range table {
		for app, capability := range capabilities.From {
			check(jobType, "from", app, capability)
		}
		for app, capability := range capabilities.To {
			check(jobType, "to", app, capability)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("incomplete connector registry: %w", err)
	}
	return r, nil
}

func (r *Registry) Table() Table {
	return r.table
}

func (r *Registry) IsValid(jobType model.JobType, origin, destiny model.Application) bool {
	return r.table.IsValid(jobType, origin, destiny)
}

// Resolve returns the bindings moving jobType from origin to destiny.
func (r *Registry) Resolve(jobType model.JobType, origin, destiny model.Application) (from, to Binding, err error) {
	fromCapability, toCapability, ok := r.table.lookup(jobType, origin, destiny)
	if !ok {
		return Binding{}, Binding{}, fmt.Errorf("%s from %s to %s: %w", jobType, origin, destiny, ErrNotSupported)
	}
	from = r.binding(fromCapability)
	to = r.binding(toCapability)
	return from, to, nil
}

func (r *Registry) binding(capability Capability) Binding {
	return Binding{
		Capability: capability,
		connector:  r.connectors[capability.Connector],
		timeout:    r.timeout,
		closeGrace: r.closeGrace,
	}
}

// Binding is a connector method ready to be opened against a credential.
type Binding struct {
	Capability

	connector  Connector
	timeout    time.Duration
	closeGrace time.Duration
}

func (b Binding) String() string {
	return b.Connector + "." + b.Method
}

// Open opens a session and returns it scoped to the bound method. Callers
// must Close the returned session.
func (b Binding) Open(ctx context.Context, creds Credentials, lastRun time.Time) (*Scoped, error) {
	if b.connector == nil {
		return nil, fmt.Errorf("%s: %w", b, ErrNotSupported)
	}
	session, err := b.connector.Open(ctx, creds, lastRun)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", b.Connector, err)
	}
	method, ok := session.Method(b.Method)
	if !ok {
		_ = session.Close()
		return nil, fmt.Errorf("%s: %w", b, ErrUnknownMethod)
	}
	return &Scoped{
		name:       b.String(),
		session:    session,
		method:     method,
		timeout:    b.timeout,
		closeGrace: b.closeGrace,
	}, nil
}

// Scoped is an open session restricted to one method.
type Scoped struct {
	name    string
	session Session
	method  Method
	timeout time.Duration
	closed  bool

	closeGrace time.Duration
	// abandoned is closed when the last call given up on returns
	abandoned <-chan struct{}
}

type result struct {
	records []Record
	err     error
}

// Invoke calls the bound method. With a timeout configured the call is
// abandoned once it expires, even if the method ignores its context; Close
// then waits for it before closing the session.
func (s *Scoped) Invoke(ctx context.Context, in []Record, kw Params) ([]Record, error) {
	if s.timeout <= 0 {
		return s.method(ctx, in, kw)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan result, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%s panicked: %v", s.name, r)}
			}
		}()
		records, err := s.method(ctx, in, kw)
		done <- result{records: records, err: err}
	}()

	select {
	case res := <-done:
		return res.records, res.err
	case <-ctx.Done():
		s.abandoned = finished
		return nil, fmt.Errorf("%s: timed out after %s: %w", s.name, s.timeout, ctx.Err())
	}
}

// Close releases the session. It is safe to call more than once. A call
// abandoned on timeout gets up to the close grace to return; past it the
// session is closed under the running call, so sessions must tolerate Close
// racing a method.
func (s *Scoped) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.abandoned != nil {
		grace := time.NewTimer(s.closeGrace)
		defer grace.Stop()
		select {
		case <-s.abandoned:
		case <-grace.C:
		}
	}
	return s.session.Close()
}

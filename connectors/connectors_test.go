package connectors_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/internal/model"
	mock_connectors "github.com/spec-sa/netsync/mocks/connectors"
)

type stubConnector struct {
	name    string
	methods connectors.Methods
	closed  int
	lastRun time.Time
	creds   connectors.Credentials
}

func (s *stubConnector) Name() string      { return s.name }
func (s *stubConnector) Methods() []string { return s.methods.Names() }

func (s *stubConnector) Open(_ context.Context, creds connectors.Credentials, lastRun time.Time) (connectors.Session, error) {
	s.creds, s.lastRun = creds, lastRun
	return &stubSession{Methods: s.methods, connector: s}, nil
}

type stubSession struct {
	connectors.Methods
	connector *stubConnector
}

func (s *stubSession) Close() error {
	s.connector.closed++
	return nil
}

func echo(_ context.Context, in []connectors.Record, _ connectors.Params) ([]connectors.Record, error) {
	return in, nil
}

// stubsFor registers a stub connector for every connector named by table.
func stubsFor(table connectors.Table) []connectors.Connector {
	stubs := map[string]*stubConnector{}
	add := func(c connectors.Capability) {
		s, ok := stubs[c.Connector]
		if !ok {
			s = &stubConnector{name: c.Connector, methods: connectors.Methods{}}
			stubs[c.Connector] = s
		}
		s.methods[c.Method] = echo
	}
	for _, capabilities := range table {
		for _, c := range capabilities.From {
			add(c)
		}
		for _, c := range capabilities.To {
			add(c)
		}
	}
	out := make([]connectors.Connector, 0, len(stubs))
	for _, s := range stubs {
		out = append(out, s)
	}
	return out
}

func TestTableIsValid(t *testing.T) {
	table := connectors.DefaultTable()

	for jobType, capabilities := range table {
		for origin := range capabilities.From {
			for destiny := range capabilities.To {
				require.True(t, table.IsValid(jobType, origin, destiny), "%s %s -> %s", jobType, origin, destiny)
			}
		}
		for _, app := range model.Applications {
			if _, ok := capabilities.From[app]; !ok {
				for destiny := range capabilities.To {
					require.False(t, table.IsValid(jobType, app, destiny), "%s %s -> %s", jobType, app, destiny)
				}
			}
			if _, ok := capabilities.To[app]; !ok {
				for origin := range capabilities.From {
					require.False(t, table.IsValid(jobType, origin, app), "%s %s -> %s", jobType, origin, app)
				}
			}
		}
	}

	require.False(t, table.IsValid(model.JobTypeEmployees, model.ApplicationNetTime6, model.ApplicationVisma))
	require.True(t, table.IsValid(model.JobTypeEmployees, model.ApplicationVisma, model.ApplicationNetTime6))
	require.True(t, table.IsValid(model.JobTypeClockings, model.ApplicationManagerAPI, model.ApplicationCertronic))
	require.False(t, table.IsValid("payroll", model.ApplicationVisma, model.ApplicationNetTime6))

	sync := model.Sync{
		Synchronize: model.JobTypeResults,
		Origin:      model.Credential{Application: model.ApplicationManager},
		Destiny:     model.Credential{Application: model.ApplicationVisma},
	}
	require.True(t, sync.IsValid(table))
}

func TestNewRegistry(t *testing.T) {
	table := connectors.DefaultTable()

	t.Run("complete", func(t *testing.T) {
		r, err := connectors.NewRegistry(table, stubsFor(table))
		require.NoError(t, err)
		require.True(t, r.IsValid(model.JobTypeStructure, model.ApplicationManager, model.ApplicationNetTime6))
		require.Equal(t, table, r.Table())
	})

	t.Run("missing connector", func(t *testing.T) {
		stubs := stubsFor(table)
		var withoutVisma []connectors.Connector
		for _, s := range stubs {
			if s.Name() != "visma" {
				withoutVisma = append(withoutVisma, s)
			}
		}
		_, err := connectors.NewRegistry(table, withoutVisma)
		require.Error(t, err)
		require.Contains(t, err.Error(), `connector "visma" not registered`)
	})

	t.Run("missing method", func(t *testing.T) {
		partial := connectors.Table{
			model.JobTypeEmployees: {
				From: map[model.Application]connectors.Capability{
					model.ApplicationVisma: {Connector: "visma", Method: "get_employees"},
				},
				To: map[model.Application]connectors.Capability{
					model.ApplicationNetTime6: {Connector: "nettime6", Method: "post_employees"},
				},
			},
		}
		_, err := connectors.NewRegistry(partial, []connectors.Connector{
			&stubConnector{name: "visma", methods: connectors.Methods{"get_employees": echo}},
			&stubConnector{name: "nettime6", methods: connectors.Methods{"get_employees": echo}},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), `connector "nettime6" has no method "post_employees"`)
	})

	t.Run("duplicate connector", func(t *testing.T) {
		_, err := connectors.NewRegistry(connectors.Table{}, []connectors.Connector{
			&stubConnector{name: "visma"},
			&stubConnector{name: "visma"},
		})
		require.Error(t, err)
	})
}

func TestResolve(t *testing.T) {
	table := connectors.DefaultTable()
	r, err := connectors.NewRegistry(table, stubsFor(table))
	require.NoError(t, err)

	t.Run("supported", func(t *testing.T) {
		from, to, err := r.Resolve(model.JobTypeEmployees, model.ApplicationManager, model.ApplicationManagerAPI)
		require.NoError(t, err)
		require.Equal(t, "specmanagerdb.get_employees", from.String())
		require.Equal(t, "specmanagerapi.post_employees", to.String())
	})

	t.Run("not supported", func(t *testing.T) {
		_, _, err := r.Resolve(model.JobTypeEmployees, model.ApplicationNetTime6, model.ApplicationVisma)
		require.ErrorIs(t, err, connectors.ErrNotSupported)
	})

	t.Run("open invoke close", func(t *testing.T) {
		from, _, err := r.Resolve(model.JobTypeResults, model.ApplicationNetTime6, model.ApplicationVisma)
		require.NoError(t, err)

		creds := connectors.Credentials{"host": "http://nettime"}
		lastRun := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
		scoped, err := from.Open(context.Background(), creds, lastRun)
		require.NoError(t, err)

		out, err := scoped.Invoke(context.Background(), []connectors.Record{{"a": 1}}, nil)
		require.NoError(t, err)
		require.Equal(t, []connectors.Record{{"a": 1}}, out)

		require.NoError(t, scoped.Close())
		require.NoError(t, scoped.Close())
	})
}

func TestBindingOpen(t *testing.T) {
	table := connectors.Table{
		model.JobTypeEmployees: {
			From: map[model.Application]connectors.Capability{
				model.ApplicationVisma: {Connector: "visma", Method: "get_employees"},
			},
			To: map[model.Application]connectors.Capability{
				model.ApplicationNetTime6: {Connector: "nettime6", Method: "post_employees"},
			},
		},
	}

	setup := func(t *testing.T, opts ...connectors.Opt) (*mock_connectors.MockConnector, *mock_connectors.MockSession, connectors.Binding) {
		ctrl := gomock.NewController(t)
		visma := mock_connectors.NewMockConnector(ctrl)
		visma.EXPECT().Name().Return("visma").AnyTimes()
		visma.EXPECT().Methods().Return([]string{"get_employees"}).AnyTimes()
		nettime := mock_connectors.NewMockConnector(ctrl)
		nettime.EXPECT().Name().Return("nettime6").AnyTimes()
		nettime.EXPECT().Methods().Return([]string{"post_employees"}).AnyTimes()

		r, err := connectors.NewRegistry(table, []connectors.Connector{visma, nettime}, opts...)
		require.NoError(t, err)
		from, _, err := r.Resolve(model.JobTypeEmployees, model.ApplicationVisma, model.ApplicationNetTime6)
		require.NoError(t, err)
		return visma, mock_connectors.NewMockSession(ctrl), from
	}

	t.Run("open error", func(t *testing.T) {
		visma, _, from := setup(t)
		visma.EXPECT().Open(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("login failed"))

		_, err := from.Open(context.Background(), connectors.Credentials{}, connectors.DefaultLastRun)
		require.ErrorContains(t, err, "opening visma: login failed")
	})

	t.Run("unknown method closes session", func(t *testing.T) {
		visma, session, from := setup(t)
		visma.EXPECT().Open(gomock.Any(), gomock.Any(), connectors.DefaultLastRun).Return(session, nil)
		session.EXPECT().Method("get_employees").Return(nil, false)
		session.EXPECT().Close().Return(nil)

		_, err := from.Open(context.Background(), connectors.Credentials{}, connectors.DefaultLastRun)
		require.ErrorIs(t, err, connectors.ErrUnknownMethod)
	})

	t.Run("no timeout", func(t *testing.T) {
		visma, session, from := setup(t)
		visma.EXPECT().Open(gomock.Any(), gomock.Any(), gomock.Any()).Return(session, nil)
		session.EXPECT().Method("get_employees").Return(connectors.Method(func(ctx context.Context, _ []connectors.Record, _ connectors.Params) ([]connectors.Record, error) {
			_, hasDeadline := ctx.Deadline()
			require.False(t, hasDeadline)
			time.Sleep(50 * time.Millisecond)
			return []connectors.Record{{"id": 1}}, nil
		}), true)
		session.EXPECT().Close().Return(nil).Times(1)

		scoped, err := from.Open(context.Background(), connectors.Credentials{}, connectors.DefaultLastRun)
		require.NoError(t, err)
		defer func() { _ = scoped.Close() }()

		out, err := scoped.Invoke(context.Background(), nil, nil)
		require.NoError(t, err)
		require.Len(t, out, 1)
	})

	t.Run("timeout", func(t *testing.T) {
		visma, session, from := setup(t, connectors.WithTimeout(20*time.Millisecond))
		visma.EXPECT().Open(gomock.Any(), gomock.Any(), gomock.Any()).Return(session, nil)

		release := make(chan struct{})
		var returned atomic.Bool
		session.EXPECT().Method("get_employees").Return(connectors.Method(func(context.Context, []connectors.Record, connectors.Params) ([]connectors.Record, error) {
			<-release
			returned.Store(true)
			return nil, nil
		}), true)
		session.EXPECT().Close().DoAndReturn(func() error {
			if !returned.Load() {
				return errors.New("session closed under a running call")
			}
			return nil
		}).Times(1)

		scoped, err := from.Open(context.Background(), connectors.Credentials{}, connectors.DefaultLastRun)
		require.NoError(t, err)

		_, err = scoped.Invoke(context.Background(), nil, nil)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.ErrorContains(t, err, "visma.get_employees: timed out after 20ms")

		closed := make(chan error, 1)
		go func() { closed <- scoped.Close() }()
		select {
		case <-closed:
			t.Fatal("Close returned before the abandoned call")
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		require.NoError(t, <-closed)
		require.NoError(t, scoped.Close())
	})

	t.Run("timeout past the close grace", func(t *testing.T) {
		visma, session, from := setup(t, connectors.WithTimeout(10*time.Millisecond), connectors.WithCloseGrace(20*time.Millisecond))
		visma.EXPECT().Open(gomock.Any(), gomock.Any(), gomock.Any()).Return(session, nil)

		release := make(chan struct{})
		defer close(release)
		session.EXPECT().Method("get_employees").Return(connectors.Method(func(context.Context, []connectors.Record, connectors.Params) ([]connectors.Record, error) {
			<-release
			return nil, nil
		}), true)
		session.EXPECT().Close().Return(nil).Times(1)

		scoped, err := from.Open(context.Background(), connectors.Credentials{}, connectors.DefaultLastRun)
		require.NoError(t, err)

		_, err = scoped.Invoke(context.Background(), nil, nil)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		start := time.Now()
		require.NoError(t, scoped.Close())
		require.Less(t, time.Since(start), time.Second)
	})

	t.Run("timeout not reached", func(t *testing.T) {
		visma, session, from := setup(t, connectors.WithTimeout(time.Second))
		visma.EXPECT().Open(gomock.Any(), gomock.Any(), gomock.Any()).Return(session, nil)
		var hasDeadline bool
		session.EXPECT().Method("get_employees").Return(connectors.Method(func(ctx context.Context, _ []connectors.Record, _ connectors.Params) ([]connectors.Record, error) {
			_, hasDeadline = ctx.Deadline()
			return nil, errors.New("remote error")
		}), true)
		session.EXPECT().Close().Return(nil)

		scoped, err := from.Open(context.Background(), connectors.Credentials{}, connectors.DefaultLastRun)
		require.NoError(t, err)
		defer func() { _ = scoped.Close() }()

		_, err = scoped.Invoke(context.Background(), nil, nil)
		require.EqualError(t, err, "remote error")
		require.True(t, hasDeadline)
	})
}

func TestCredentials(t *testing.T) {
	creds := connectors.Credentials{"host": "h", "port": "1433", "user": "", "bad": "x"}

	require.Equal(t, "h", creds.Get("host"))
	require.NoError(t, creds.Require("host", "port"))
	require.EqualError(t, creds.Require("host", "user", "password"), "missing credential parameters: [user password]")

	port, err := creds.Int("port", 0)
	require.NoError(t, err)
	require.Equal(t, 1433, port)

	def, err := creds.Int("missing", 8080)
	require.NoError(t, err)
	require.Equal(t, 8080, def)

	_, err = creds.Int("bad", 0)
	require.Error(t, err)
}

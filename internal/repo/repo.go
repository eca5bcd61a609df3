package repo

import (
	"errors"
	"time"

	sqlmw "github.com/spec-sa/netsync/middleware/sqlquerywrapper"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrSyncNotFound       = errors.New("sync not found")
	ErrHistoryNotFound    = errors.New("sync history not found")
)

type repo struct {
	db  *sqlmw.DB
	now func() time.Time
}

type Opt func(*repo)

func WithNow(now func() time.Time) Opt {
	return func(r *repo) {
		r.now = now
	}
}

type scanFn func(dest ...any) error

func newRepo(db *sqlmw.DB, opts ...Opt) *repo {
	r := &repo{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

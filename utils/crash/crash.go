// Package crash keeps a panicking background routine from taking the whole
// process down unnoticed.
package crash

import (
	goerrors "github.com/go-errors/errors"

	"github.com/rudderlabs/rudder-go-kit/logger"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"
)

type Handler struct {
	log logger.Logger
}

func New(log logger.Logger) *Handler {
	return &Handler{log: log.Child("crash")}
}

// Wrapper returns fn with any panic turned into an error carrying its stack.
func (h *Handler) Wrapper(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = h.recovered(r)
			}
		}()
		return fn()
	}
}

// Go runs fn in a new goroutine, logging a panic instead of crashing.
func (h *Handler) Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				_ = h.recovered(r)
			}
		}()
		fn()
	}()
}

func (h *Handler) recovered(r any) error {
	err := goerrors.Wrap(r, 3)
	h.log.Errorn("Recovered panic",
		obskit.Error(err),
		logger.NewStringField("stack", string(err.Stack())),
	)
	return goerrors.WrapPrefix(err, "panic", 0)
}

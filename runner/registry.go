package runner

import (
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/connectors/certronic"
	"github.com/spec-sa/netsync/connectors/exactian"
	"github.com/spec-sa/netsync/connectors/nettime6"
	"github.com/spec-sa/netsync/connectors/specmanagerapi"
	"github.com/spec-sa/netsync/connectors/specmanagerdb"
	"github.com/spec-sa/netsync/connectors/visma"
)

// DefaultRegistry binds the default capability table to every built-in
// connector.
func DefaultRegistry(conf *config.Config, log logger.Logger) (*connectors.Registry, error) {
	log = log.Child("connectors")
	return connectors.NewRegistry(
		connectors.DefaultTable(),
		[]connectors.Connector{
			nettime6.New(conf, log),
			visma.New(conf, log),
			exactian.New(conf, log),
			certronic.New(conf, log),
			specmanagerapi.New(conf, log),
			specmanagerdb.New(conf, log),
		},
		connectors.WithTimeout(conf.GetDurationVar(0, time.Second, "NetSync.connectorTimeout")),
		connectors.WithCloseGrace(conf.GetDurationVar(10, time.Second, "NetSync.connectorCloseGrace")),
	)
}

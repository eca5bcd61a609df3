package connectors

import (
	"github.com/spec-sa/netsync/internal/model"
)

// Capability names the connector and method serving one side of a job type.
type Capability struct {
	Connector string
	Method    string
}

type Capabilities struct {
	From map[model.Application]Capability
	To   map[model.Application]Capability
}

// Table maps a job type to the applications able to produce and consume it.
type Table map[model.JobType]Capabilities

func (t Table) IsValid(jobType model.JobType, origin, destiny model.Application) bool {
	_, _, ok := t.lookup(jobType, origin, destiny)
	return ok
}

func (t Table) lookup(jobType model.JobType, origin, destiny model.Application) (from, to Capability, ok bool) {
	capabilities, ok := t[jobType]
	if !ok {
		return Capability{}, Capability{}, false
	}
	from, fromOK := capabilities.From[origin]
	to, toOK := capabilities.To[destiny]
	return from, to, fromOK && toOK
}

// DefaultTable returns the supported flows between applications.
func DefaultTable() Table {
	return Table{
		model.JobTypeClockings: {
			From: map[model.Application]Capability{
				model.ApplicationManagerAPI: {Connector: "specmanagerapi", Method: "get_clockings"},
			},
			To: map[model.Application]Capability{
				model.ApplicationCertronic: {Connector: "certronic", Method: "post_clockings"},
			},
		},
		model.JobTypeEmployees: {
			From: map[model.Application]Capability{
				model.ApplicationNetTime6:  {Connector: "nettime6", Method: "get_employees"},
				model.ApplicationManager:   {Connector: "specmanagerdb", Method: "get_employees"},
				model.ApplicationVisma:     {Connector: "visma", Method: "get_employees"},
				model.ApplicationExactian:  {Connector: "exactian", Method: "get_employees"},
				model.ApplicationCertronic: {Connector: "certronic", Method: "get_employees"},
			},
			To: map[model.Application]Capability{
				model.ApplicationNetTime6:   {Connector: "nettime6", Method: "post_employees"},
				model.ApplicationManager:    {Connector: "specmanagerdb", Method: "post_employees"},
				model.ApplicationManagerAPI: {Connector: "specmanagerapi", Method: "post_employees"},
			},
		},
		model.JobTypeStructure: {
			From: map[model.Application]Capability{
				model.ApplicationManager: {Connector: "specmanagerdb", Method: "get_employees"},
			},
			To: map[model.Application]Capability{
				model.ApplicationNetTime6: {Connector: "nettime6", Method: "post_departments"},
			},
		},
		model.JobTypeResults: {
			From: map[model.Application]Capability{
				model.ApplicationNetTime6: {Connector: "nettime6", Method: "get_result_syncs"},
				model.ApplicationManager:  {Connector: "specmanagerdb", Method: "get_results"},
			},
			To: map[model.Application]Capability{
				model.ApplicationVisma: {Connector: "visma", Method: "post_payments"},
			},
		},
	}
}

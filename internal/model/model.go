package model

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

type Application string

const (
	ApplicationNetTime6   Application = "nettime6"
	ApplicationManager    Application = "manager"
	ApplicationManagerAPI Application = "manager_api"
	ApplicationVisma      Application = "visma"
	ApplicationExactian   Application = "exactian"
	ApplicationCertronic  Application = "certronic"
)

// Applications lists every application a credential can point at.
var Applications = []Application{
	ApplicationNetTime6,
	ApplicationManager,
	ApplicationManagerAPI,
	ApplicationVisma,
	ApplicationExactian,
	ApplicationCertronic,
}

func (a Application) Valid() bool {
	return lo.Contains(Applications, a)
}

type JobType string

const (
	JobTypeEmployees JobType = "employees"
	JobTypeClockings JobType = "clockings"
	JobTypeStructure JobType = "structure"
	JobTypeResults   JobType = "results"
)

var JobTypes = []JobType{
	JobTypeEmployees,
	JobTypeClockings,
	JobTypeStructure,
	JobTypeResults,
}

func (j JobType) Valid() bool {
	return lo.Contains(JobTypes, j)
}

type Status int

const (
	StatusPending Status = 0
	StatusRunning Status = 1
	StatusQueued  Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusQueued:
		return "queued"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Credential parameter keys.
const (
	ParamHost       = "host"
	ParamServer     = "server"
	ParamInstance   = "instance"
	ParamUser       = "user"
	ParamPassword   = "password"
	ParamDriver     = "driver"
	ParamPort       = "port"
	ParamDatabase   = "database"
	ParamController = "controller"
	ParamAPIKey     = "apikey"
)

var CredentialParamKeys = []string{
	ParamHost,
	ParamServer,
	ParamInstance,
	ParamUser,
	ParamPassword,
	ParamDriver,
	ParamPort,
	ParamDatabase,
	ParamController,
	ParamAPIKey,
}

type CredentialParameter struct {
	Key   string
	Value string
}

type Credential struct {
	ID          int64
	Application Application
	Comment     string
	Parameters  []CredentialParameter
	CreatedAt   time.Time
}

// Params returns the credential parameters keyed by name.
func (c Credential) Params() map[string]string {
	params := make(map[string]string, len(c.Parameters))
	for _, p := range c.Parameters {
		params[p.Key] = p.Value
	}
	return params
}

func (c Credential) String() string {
	if c.Comment == "" {
		return string(c.Application)
	}
	return fmt.Sprintf("%s (%s)", c.Application, c.Comment)
}

type UseIn string

const (
	UseInOrigin  UseIn = "origin"
	UseInDestiny UseIn = "destiny"
)

type ParamType string

const (
	ParamTypePython ParamType = "python"
	ParamTypeJSON   ParamType = "json"
)

type SyncParameter struct {
	ID       int64
	Position int
	UseIn    UseIn
	Key      string
	Value    string
	Type     ParamType
}

type SyncProcess struct {
	ID           int64
	Order        int
	Requirements string
	Name         string
	Expression   string
}

type Sync struct {
	ID             int64
	Synchronize    JobType
	Origin         Credential
	Destiny        Credential
	CronExpression string
	Active         bool
	Status         Status

	Parameters []SyncParameter
	Processes  []SyncProcess

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Sync) String() string {
	return fmt.Sprintf("%s: %s -> %s", s.Synchronize, s.Origin.Application, s.Destiny.Application)
}

// Validator reports whether a job type can flow between two applications.
type Validator interface {
	IsValid(jobType JobType, origin, destiny Application) bool
}

// IsValid holds when the origin application can produce the job type and
// the destiny application can consume it.
func (s Sync) IsValid(v Validator) bool {
	return v.IsValid(s.Synchronize, s.Origin.Application, s.Destiny.Application)
}

// ParametersFor returns the parameters used by one side of the sync, ordered by position.
func (s Sync) ParametersFor(useIn UseIn) []SyncParameter {
	return lo.Filter(s.Parameters, func(p SyncParameter, _ int) bool {
		return p.UseIn == useIn
	})
}

type SyncHistory struct {
	ID        int64
	SyncID    int64
	StartTime time.Time
	EndTime   time.Time
	OK        bool
	Message   string
}

// Completed reports whether the run recorded by h has finished.
func (h SyncHistory) Completed() bool {
	return !h.EndTime.IsZero()
}

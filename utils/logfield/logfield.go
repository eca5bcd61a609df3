package logfield

const (
	SyncID             = "syncID"
	HistoryID          = "historyID"
	JobType            = "jobType"
	Origin             = "origin"
	Destiny            = "destiny"
	Connector          = "connector"
	Method             = "method"
	Status             = "status"
	Records            = "records"
	Process            = "process"
	NextRun            = "nextRun"
	Deleted            = "deleted"
	Query              = "query"
	QueryExecutionTime = "queryExecutionTime"
	Database           = "database"
	Table              = "table"
)

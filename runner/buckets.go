package runner

var defaultHistogramBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 60,
}

var customBuckets = map[string][]float64{
	"netsync_sync_run_duration": {
		1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200, // 1s to 2h
	},
	"netsync_sync_records": {
		0, 1, 10, 100, 1000, 10000, 100000,
	},
	"netsync_http_response_time": {
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
	},
}

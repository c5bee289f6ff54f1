package metrics

// latencyBuckets covers local disk calls up to slow remote uploads.
var latencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.5,   // 500ms
	1.0,   // 1s
	5.0,   // 5s
	30.0,  // 30s
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

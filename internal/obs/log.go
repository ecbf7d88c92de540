package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// serviceField tags every structured line so log aggregation can
// separate this service from the rest of the platform.
const serviceField = "medguard"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line-oriented logger. Output is one JSON
// object per line on stdout; collectors ingest it as-is.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line with common HTTP fields,
// stamped with the service name.
func LogRequest(entry map[string]any) {
	if entry == nil {
		entry = make(map[string]any, 1)
	}
	if _, ok := entry["service"]; !ok {
		entry["service"] = serviceField
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"service":"` + serviceField + `","level":"error","msg":"log entry not serializable"}`)
		return
	}
	Logger().Println(string(data))
}

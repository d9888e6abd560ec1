package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// ServiceName labels every log line and ops response this process emits.
const ServiceName = "vaultdesk-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line logger: one JSON document per line, no
// prefix. Request logging and the audit trail both write through it.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line with common HTTP fields. The
// service label is stamped on here so lines stay attributable after log
// aggregation across services.
func LogRequest(entry map[string]any) {
	if entry == nil {
		entry = make(map[string]any, 1)
	}
	if _, ok := entry["service"]; !ok {
		entry["service"] = ServiceName
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"service":"` + ServiceName + `","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

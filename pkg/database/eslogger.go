package database

import (
	"net/http"
	"time"

	"github.com/BartekS5/esync/pkg/logger"
)

// esLogger routes Elasticsearch round trips to the process logger.
type esLogger struct{}

func (esLogger) LogRoundTrip(request *http.Request, response *http.Response, err error, start time.Time, duration time.Duration) error {
	var method, url, status string
	if request != nil {
		method, url = request.Method, request.URL.Redacted()
	}
	if response != nil {
		status = response.Status
	}
	if err != nil {
		logger.Warnf("Elasticsearch request %s %s failed after %s: %v", method, url, duration, err)
		return nil
	}
	logger.Debugf("Elasticsearch request %s %s -> %s (%s)", method, url, status, duration)
	return nil
}

func (esLogger) RequestBodyEnabled() bool {
	return false
}

func (esLogger) ResponseBodyEnabled() bool {
	return false
}

package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		err        error
		want       string
	}{
		{"200 OK", 200, nil, StatusClass2xx},
		{"204 No Content", 204, nil, StatusClass2xx},
		{"429 quota", 429, nil, StatusClass4xx},
		{"502 with error", 502, errors.New("worker responded 502"), StatusClass5xx},
		{"302 redirect", 302, nil, StatusClassOtherError},
		{"no status no error", 0, nil, StatusClassOtherError},

		{"deadline", 0, errors.New("send: context deadline exceeded"), StatusClassTimeout},
		{"Timeout uppercase", 0, errors.New("Client.Timeout exceeded"), StatusClassTimeout},
		{"breaker", 0, errors.New("endpoint http://w: circuit breaker is open"), StatusClassBreakerOpen},
		{"connection refused", 0, errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), StatusClassConnectionError},
		{"no such host", 0, errors.New("lookup worker: no such host"), StatusClassConnectionError},
		{"generic", 0, errors.New("decode response: unexpected EOF"), StatusClassOtherError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.statusCode, tt.err))
		})
	}
}

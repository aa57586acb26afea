// Command receiver accepts alert webhooks and job worker calls from
// automationd during local runs and exposes what it saw on /stats.
//
// Environment:
//
//	ADDR           listen address (default ":8081")
//	ALERT_SECRET   verify X-Automation-Signature on /alerts when set
//	WORKER_SECRET  verify X-Automation-Signature on /jobs when set
//	FAIL_KINDS     comma-separated job kinds answered with 500
package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/logging"
)

func main() {
	logger, err := logging.New("info", "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	rc := newReceiver(settingsFromEnv(os.Getenv), logger)

	srv := &http.Server{
		Addr:              addr,
		Handler:           rc.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("receiver: listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("receiver: server stopped", zap.Error(err))
	}
}

func settingsFromEnv(getenv func(string) string) settings {
	s := settings{
		alertSecret:  getenv("ALERT_SECRET"),
		workerSecret: getenv("WORKER_SECRET"),
		failKinds:    map[domain.JobKind]bool{},
	}
	for _, k := range strings.Split(getenv("FAIL_KINDS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			s.failKinds[domain.JobKind(k)] = true
		}
	}
	return s
}

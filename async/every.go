// Package async provides the scheduling primitives shared by the eidaws
// services: a periodic runner for background maintenance tasks and a bounded
// worker pool that dispatches federated sub-requests.
package async

import (
	"context"
	"reflect"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
)

// RunEvery calls f once per period in a background goroutine until ctx is
// done. The first call happens one full period after RunEvery returns, not
// immediately.
func RunEvery(ctx context.Context, period time.Duration, f func()) {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.WithField("function", funcName).Trace("Running periodic task")
				f()
			case <-ctx.Done():
				log.WithField("function", funcName).Debug("Stopping periodic task, context closed")
				return
			}
		}
	}()
}

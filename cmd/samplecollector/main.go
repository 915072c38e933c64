// Command samplecollector is a minimal out-of-process collector plugin
// used as a real-process fixture for supervisor integration tests. It
// reports the current time of day as its only sensor, and can be told to
// exit with a nonzero status after a fixed number of fetchSensors calls
// (via SAMPLECOLLECTOR_CRASH_AFTER) to exercise the restart-with-replay
// path.
package main

import (
	"context"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/junctionrelay/collector-host/dispatcher"
	"github.com/junctionrelay/collector-host/protocol"
)

func main() {
	crashAfter, _ := strconv.Atoi(os.Getenv("SAMPLECOLLECTOR_CRASH_AFTER"))

	var calls int64

	cfg := dispatcher.Config{
		Metadata: protocol.CollectorMetadata{
			CollectorName: "junctionrelay.samplecollector",
			DisplayName:   "Sample Collector",
			Description:   "Reports the current time of day.",
			Category:      "diagnostic",
		},
		Handlers: dispatcher.Handlers{
			FetchSensors: func(ctx context.Context, config protocol.ConfigureParams) ([]protocol.SensorRecord, error) {
				n := atomic.AddInt64(&calls, 1)
				if crashAfter > 0 && int(n) >= crashAfter {
					os.Exit(1)
				}
				return []protocol.SensorRecord{
					{
						UniqueSensorKey: "time-of-day",
						Value:           time.Now().Format(time.RFC3339),
						SensorType:      protocol.SensorTypeText,
						Unit:            "",
					},
				}, nil
			},
			TestConnection: func(ctx context.Context, config protocol.ConfigureParams) (interface{}, error) {
				return map[string]bool{"success": true}, nil
			},
		},
	}

	d := dispatcher.New(cfg)
	if err := d.Run(context.Background()); err != nil {
		os.Exit(1)
	}
}

// Command cast2md runs the job orchestration server: the HTTP API (node
// protocol + operator endpoints), the local worker pool, and the feed
// poller, in whatever combination RUN_SERVER / RUN_WORKER / RUN_FEED_POLLER
// select, plus the distributed coordinator, which always runs.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/meltforce/cast2md/internal/app"
)

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	if envTrue("RUN_SERVER", true) {
		fmt.Printf("server listening on %s\n", a.Cfg.Addr)
		if err := a.Run(a.Cfg.Addr); err != nil {
			a.Log.Warn("server failed", "error", err)
		}
		return
	}

	// Worker-only container: keep the process alive for Start's goroutines.
	select {}
}

// Command swarm-replay verifies a thread's signed audit stream and
// reconstructs its Plan Log state from it, exiting 0 if every record
// verified and applied cleanly and 1 otherwise.
package main

import (
	"flag"
	"os"
	"strings"

	"github.com/bottletopbil/agent-network-sub002/audit"
	"github.com/bottletopbil/agent-network-sub002/config"
	"github.com/bottletopbil/agent-network-sub002/observability/logging"
)

func main() {
	config.StripBypassVars()
	log := logging.Setup("swarm-replay", strings.TrimSpace(os.Getenv("SWARM_ENV")))

	threadID := flag.String("thread", "", "thread_id to replay")
	logPath := flag.String("log", "", "path to the signed audit JSONL stream")
	flag.Parse()

	if *threadID == "" || *logPath == "" {
		log.Error("missing required flag", "thread", *threadID, "log", *logPath)
		os.Exit(1)
	}

	ok, err := audit.Replay(*threadID, *logPath)
	if err != nil {
		log.Error("replay failed", "thread", *threadID, "error", err)
		os.Exit(1)
	}
	if !ok {
		log.Error("replay did not verify cleanly", "thread", *threadID)
		os.Exit(1)
	}

	log.Info("replay verified", "thread", *threadID)
	os.Exit(0)
}

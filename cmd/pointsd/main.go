/*
main.go - Application entry point

PURPOSE:
  pointsd runs the loyalty point engine: the HTTP admin API with its
  periodic batch pass, or a single pass / rebuild / seed from the shell.

COMMANDS:
  serve                 HTTP API + scheduler, graceful shutdown on SIGINT/SIGTERM
  process               One batch pass over due documents, then exit
  recalc <cust-code>    Full rebuild of one customer, then exit
  seed <fixture.yaml>   Load store-front data from a YAML fixture

GLOBAL FLAGS:
  --config     YAML config file (default: pointsd.yaml, optional)
  --db         SQLite database path, overrides database.path
  --log-level  Overrides log.level

EXAMPLES:
  pointsd seed fixture/testdata/demo.yaml --db ./points.db
  pointsd process --db ./points.db
  pointsd serve --config /etc/pointsd.yaml

SEE ALSO:
  - config/config.go: File format and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

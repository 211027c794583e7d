package config

import (
	"flag"
	"os"
	"time"

	"github.com/taniko/roadsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-l string   local SQLite file path
//	-u string   CouchDB URL
//	-n string   CouchDB database name
//	-y string   identity API base URL
//	-k string   identity API key
//	-b string   backend base URL
//	-t int      probe TTL, seconds
//	-o int      probe timeout, seconds
//	-w int      per-call timeout, seconds
//	-p int      identity list page size
//	-m string   metrics bind address
//	-f int      full-sync interval, minutes (0 disables)
//
// S3 settings are env/JSON only. The function first filters os.Args to the
// flags it recognizes using flagx.FilterArgs, avoiding collisions with other
// components. Duration flags are accepted as integers and converted.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-l", "-u", "-n", "-y", "-k", "-b", "-t", "-o", "-w", "-p", "-m", "-f"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LocalDBPath, "l", config.LocalDBPath, "local sqlite path")
	fs.StringVar(&config.CouchURL, "u", config.CouchURL, "couchdb url")
	fs.StringVar(&config.CouchDatabase, "n", config.CouchDatabase, "couchdb database name")
	fs.StringVar(&config.IdentityBaseURL, "y", config.IdentityBaseURL, "identity api base url")
	fs.StringVar(&config.IdentityAPIKey, "k", config.IdentityAPIKey, "identity api key")
	fs.StringVar(&config.BackendBaseURL, "b", config.BackendBaseURL, "backend base url")

	probeTTL := fs.Int("t", int(config.ProbeTTL.Seconds()), "probe ttl (in seconds)")
	probeTimeout := fs.Int("o", int(config.ProbeTimeout.Seconds()), "probe timeout (in seconds)")
	callTimeout := fs.Int("w", int(config.CallTimeout.Seconds()), "per-call timeout (in seconds)")

	fs.IntVar(&config.IdentityPageSize, "p", config.IdentityPageSize, "identity list page size")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics bind address")

	fullSyncInterval := fs.Int("f", int(config.FullSyncInterval.Minutes()), "full sync interval (in minutes, 0 disables)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// The integer flags lose sub-unit precision, so they only overwrite the
	// durations when actually passed; a "90s" interval from env or JSON must
	// survive a flagless start.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["t"] {
		config.ProbeTTL = time.Duration(*probeTTL) * time.Second
	}
	if set["o"] {
		config.ProbeTimeout = time.Duration(*probeTimeout) * time.Second
	}
	if set["w"] {
		config.CallTimeout = time.Duration(*callTimeout) * time.Second
	}
	if set["f"] {
		config.FullSyncInterval = time.Duration(*fullSyncInterval) * time.Minute
	}
}

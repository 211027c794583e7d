package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/taniko/roadsync/internal/flagx"
	"github.com/taniko/roadsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "3s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config (which uses time.Duration).
type JsonConfig struct {
	DatabaseDSN       string         `json:"database_dsn"`
	LocalDBPath       string         `json:"local_db_path"`
	CouchURL          string         `json:"couch_url"`
	CouchDatabase     string         `json:"couch_db"`
	IdentityBaseURL   string         `json:"identity_api_url"`
	IdentityAPIKey    string         `json:"identity_api_key"`
	IdentityPageSize  int            `json:"identity_page_size"`
	CloudSessionToken string         `json:"cloud_session_token"`
	BackendBaseURL    string         `json:"backend_url"`
	ProbeTTL          timex.Duration `json:"probe_ttl"`
	ProbeTimeout      timex.Duration `json:"probe_timeout"`
	CallTimeout       timex.Duration `json:"call_timeout"`
	S3RootUser        string         `json:"s3_root_user"`
	S3RootPassword    string         `json:"s3_root_password"`
	S3Bucket          string         `json:"s3_bucket"`
	S3Region          string         `json:"s3_region"`
	S3BaseEndpoint    string         `json:"s3_base_endpoint"`
	MetricsAddr       string         `json:"metrics_addr"`
	FullSyncInterval  timex.Duration `json:"full_sync_interval"`
}

// parseJson overlays Config with values from a JSON file whose path comes
// from the -c or -config flags. Absent flags mean no JSON is loaded. String
// fields are only copied when non-empty and durations when non-zero, so a
// sparse JSON file overrides selectively. Read or unmarshal failures panic:
// a requested-but-broken config file is a startup error, not something to
// silently skip.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.LocalDBPath, jc.LocalDBPath)
	setString(&cfg.CouchURL, jc.CouchURL)
	setString(&cfg.CouchDatabase, jc.CouchDatabase)
	setString(&cfg.IdentityBaseURL, jc.IdentityBaseURL)
	setString(&cfg.IdentityAPIKey, jc.IdentityAPIKey)
	if jc.IdentityPageSize > 0 {
		cfg.IdentityPageSize = jc.IdentityPageSize
	}
	setString(&cfg.CloudSessionToken, jc.CloudSessionToken)
	setString(&cfg.BackendBaseURL, jc.BackendBaseURL)
	setDuration(&cfg.ProbeTTL, jc.ProbeTTL.Duration)
	setDuration(&cfg.ProbeTimeout, jc.ProbeTimeout.Duration)
	setDuration(&cfg.CallTimeout, jc.CallTimeout.Duration)
	setString(&cfg.S3RootUser, jc.S3RootUser)
	setString(&cfg.S3RootPassword, jc.S3RootPassword)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
	setDuration(&cfg.FullSyncInterval, jc.FullSyncInterval.Duration)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

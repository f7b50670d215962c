package types

// ProjectConfig is the parsed tallyline.yaml project configuration.
// Provider-specific sections are decoded in a second pass by the config
// package into the concrete types owned by each store package, so this
// package does not import the stores.
type ProjectConfig struct {
	Provider string `yaml:"provider"`

	// Filled by the config package's second unmarshal pass.
	Redis    interface{} `yaml:"-"`
	DynamoDB interface{} `yaml:"-"`
	Postgres interface{} `yaml:"-"`

	Server        *ServerConfig        `yaml:"server,omitempty"`
	Reconcile     *ReconcileConfig     `yaml:"reconcile,omitempty"`
	Sweep         *SweepConfig         `yaml:"sweep,omitempty"`
	Anomaly       *AnomalyConfig       `yaml:"anomaly,omitempty"`
	Alerts        []AlertConfig        `yaml:"alerts,omitempty"`
	Observability *ObservabilityConfig `yaml:"observability,omitempty"`

	// Machines optionally seeds the registry at startup.
	Machines []Machine `yaml:"machines,omitempty"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr         string `yaml:"addr,omitempty"`
	APIKey       string `yaml:"apiKey,omitempty"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes,omitempty"`
	ExposeExpvar bool   `yaml:"exposeExpvar,omitempty"`
}

// ReconcileConfig selects the reconciliation mode.
type ReconcileConfig struct {
	Mode     ReconcileMode `yaml:"mode,omitempty"`     // "sync" (default) or "queued"
	QueueURL string        `yaml:"queueUrl,omitempty"` // SQS queue for queued mode; empty = sweeper polls the store
	Region   string        `yaml:"region,omitempty"`
}

// SweepConfig configures the background sweeper.
type SweepConfig struct {
	IntervalSeconds    int `yaml:"intervalSeconds,omitempty"`
	MachineConcurrency int `yaml:"machineConcurrency,omitempty"`
	ScanWindow         int `yaml:"scanWindow,omitempty"` // log rows per anomaly scan
}

// AnomalyConfig configures the anomaly detector thresholds.
type AnomalyConfig struct {
	GapFactor          float64 `yaml:"gapFactor,omitempty"`          // default 1.6
	BurstWindowSeconds int     `yaml:"burstWindowSeconds,omitempty"` // default 2
	BurstMinCount      int     `yaml:"burstMinCount,omitempty"`      // default 3
	// DefaultCycleSeconds applies to machines without ExpectedCycleSeconds.
	DefaultCycleSeconds int `yaml:"defaultCycleSeconds,omitempty"`
}

// AlertSinkType identifies an alert sink implementation.
type AlertSinkType string

// AlertSinkType values.
const (
	AlertConsole AlertSinkType = "console"
	AlertWebhook AlertSinkType = "webhook"
	AlertFile    AlertSinkType = "file"
)

// AlertConfig configures one alert sink.
type AlertConfig struct {
	Type AlertSinkType `yaml:"type"`
	URL  string        `yaml:"url,omitempty"`
	Path string        `yaml:"path,omitempty"`
}

// ObservabilityConfig configures optional OTLP metric export.
type ObservabilityConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

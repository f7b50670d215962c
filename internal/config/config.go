// Package config handles loading and validation of tallyline.yaml project
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	ddbstore "github.com/tallyline/tallyline/internal/store/dynamodb"
	pgstore "github.com/tallyline/tallyline/internal/store/postgres"
	redisstore "github.com/tallyline/tallyline/internal/store/redis"
	"github.com/tallyline/tallyline/pkg/types"
)

// FileName is the project configuration file looked up in the working
// directory.
const FileName = "tallyline.yaml"

// storeConfigs is a helper struct used for a second YAML unmarshal pass to
// decode backend-specific config sections into their concrete types.
type storeConfigs struct {
	Redis    *redisstore.Config `yaml:"redis,omitempty"`
	DynamoDB *ddbstore.Config   `yaml:"dynamodb,omitempty"`
	Postgres *pgstore.Config    `yaml:"postgres,omitempty"`
}

// Load reads and parses tallyline.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse parses a raw tallyline.yaml document.
func Parse(data []byte) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Second pass: decode backend-specific sections into concrete types.
	var raw storeConfigs
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing store config: %w", err)
	}
	if raw.Redis != nil {
		cfg.Redis = raw.Redis
	}
	if raw.DynamoDB != nil {
		cfg.DynamoDB = raw.DynamoDB
	}
	if raw.Postgres != nil {
		cfg.Postgres = raw.Postgres
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *types.ProjectConfig) error {
	switch cfg.Provider {
	case "":
		return fmt.Errorf("provider is required")
	case "redis":
		rc, _ := cfg.Redis.(*redisstore.Config)
		if rc == nil {
			return fmt.Errorf("redis config is required when provider is redis")
		}
		if rc.Addr == "" {
			return fmt.Errorf("redis.addr is required")
		}
	case "dynamodb":
		dc, _ := cfg.DynamoDB.(*ddbstore.Config)
		if dc == nil {
			return fmt.Errorf("dynamodb config is required when provider is dynamodb")
		}
		if dc.TableName == "" {
			return fmt.Errorf("dynamodb.tableName is required")
		}
	case "postgres":
		pc, _ := cfg.Postgres.(*pgstore.Config)
		if pc == nil {
			return fmt.Errorf("postgres config is required when provider is postgres")
		}
		if pc.DSN == "" {
			return fmt.Errorf("postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	if cfg.Reconcile != nil {
		switch cfg.Reconcile.Mode {
		case "", types.ReconcileSync, types.ReconcileQueued:
		default:
			return fmt.Errorf("unknown reconcile mode %q", cfg.Reconcile.Mode)
		}
	}

	for i, a := range cfg.Alerts {
		switch a.Type {
		case types.AlertConsole:
		case types.AlertWebhook:
			if a.URL == "" {
				return fmt.Errorf("alerts[%d]: webhook sink requires url", i)
			}
		case types.AlertFile:
			if a.Path == "" {
				return fmt.Errorf("alerts[%d]: file sink requires path", i)
			}
		default:
			return fmt.Errorf("alerts[%d]: unknown sink type %q", i, a.Type)
		}
	}

	for i, m := range cfg.Machines {
		if m.MachineID == "" {
			return fmt.Errorf("machines[%d]: machineId is required", i)
		}
		if m.LaneCount < 1 {
			return fmt.Errorf("machines[%d]: laneCount must be >= 1", i)
		}
	}

	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ddbstore "github.com/tallyline/tallyline/internal/store/dynamodb"
	redisstore "github.com/tallyline/tallyline/internal/store/redis"
)

func TestLoadRedisConfig(t *testing.T) {
	dir := t.TempDir()
	doc := `
provider: redis
redis:
  addr: localhost:6379
  keyPrefix: "tallyline:"
server:
  addr: ":8080"
reconcile:
  mode: sync
machines:
  - machineId: T1.2-M01
    laneCount: 2
    expectedCycleSeconds: 90
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(doc), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Provider)
	rc, ok := cfg.Redis.(*redisstore.Config)
	require.True(t, ok)
	assert.Equal(t, "localhost:6379", rc.Addr)
	require.NotNil(t, cfg.Server)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	require.Len(t, cfg.Machines, 1)
	assert.Equal(t, "T1.2-M01", cfg.Machines[0].MachineID)
	assert.Equal(t, 90, cfg.Machines[0].ExpectedCycleSeconds)
}

func TestParseDynamoDBConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
provider: dynamodb
dynamodb:
  tableName: tallyline
  region: us-east-1
  createTable: true
`))
	require.NoError(t, err)

	dc, ok := cfg.DynamoDB.(*ddbstore.Config)
	require.True(t, ok)
	assert.Equal(t, "tallyline", dc.TableName)
	assert.True(t, dc.CreateTable)
}

func TestParseRejectsMissingProvider(t *testing.T) {
	_, err := Parse([]byte(`server: {addr: ":8080"}`))
	assert.ErrorContains(t, err, "provider is required")
}

func TestParseRejectsUnknownProvider(t *testing.T) {
	_, err := Parse([]byte(`provider: etcd`))
	assert.ErrorContains(t, err, "unknown provider")
}

func TestParseRejectsProviderWithoutSection(t *testing.T) {
	_, err := Parse([]byte(`provider: postgres`))
	assert.ErrorContains(t, err, "postgres config is required")
}

func TestParseRejectsBadReconcileMode(t *testing.T) {
	_, err := Parse([]byte(`
provider: redis
redis: {addr: "localhost:6379"}
reconcile: {mode: eventually}
`))
	assert.ErrorContains(t, err, "unknown reconcile mode")
}

func TestParseValidatesAlertSinks(t *testing.T) {
	_, err := Parse([]byte(`
provider: redis
redis: {addr: "localhost:6379"}
alerts:
  - type: webhook
`))
	assert.ErrorContains(t, err, "webhook sink requires url")

	cfg, err := Parse([]byte(`
provider: redis
redis: {addr: "localhost:6379"}
alerts:
  - type: console
  - type: file
    path: /tmp/alerts.jsonl
`))
	require.NoError(t, err)
	assert.Len(t, cfg.Alerts, 2)
}

func TestParseValidatesSeedMachines(t *testing.T) {
	_, err := Parse([]byte(`
provider: redis
redis: {addr: "localhost:6379"}
machines:
  - laneCount: 2
`))
	assert.ErrorContains(t, err, "machineId is required")

	_, err = Parse([]byte(`
provider: redis
redis: {addr: "localhost:6379"}
machines:
  - machineId: T1.2-M01
    laneCount: 0
`))
	assert.ErrorContains(t, err, "laneCount must be >= 1")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.ErrorContains(t, err, "reading config")
}

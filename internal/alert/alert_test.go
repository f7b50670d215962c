package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyline/tallyline/pkg/types"
)

func sample() types.Alert {
	return types.Alert{
		Level:     types.AlertLevelWarning,
		MachineID: "T1.2-M01",
		Kind:      "UnresolvedConfiguration",
		Message:   "machine has no active product assignment",
		Timestamp: time.Now(),
	}
}

func TestWebhookSink_PostsJSON(t *testing.T) {
	var got types.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	require.NoError(t, sink.Send(sample()))
	assert.Equal(t, "T1.2-M01", got.MachineID)
	assert.Equal(t, types.AlertLevelWarning, got.Level)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	assert.Error(t, sink.Send(sample()))
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Send(sample()))
	require.NoError(t, sink.Send(sample()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

func TestNewDispatcher_RejectsBadConfig(t *testing.T) {
	_, err := NewDispatcher([]types.AlertConfig{{Type: types.AlertWebhook}}, nil)
	assert.Error(t, err, "webhook without URL")

	_, err = NewDispatcher([]types.AlertConfig{{Type: "pager"}}, nil)
	assert.Error(t, err, "unknown sink type")
}

func TestDispatcher_FansOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	d, err := NewDispatcher([]types.AlertConfig{
		{Type: types.AlertConsole},
		{Type: types.AlertFile, Path: path},
	}, nil)
	require.NoError(t, err)

	d.Dispatch(sample())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, countLines(data))
}

package monitoring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestTrackerAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "requests.jsonl")
	tr, err := NewTracker(path, nil)
	require.NoError(t, err)

	tr.Record(RequestEvent{RequestID: "r1", Path: "/v1/chat/completions", Status: 200})
	tr.Record(RequestEvent{RequestID: "r2", Path: "/v1/chat/batch", Status: 200, BatchItems: 3})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	assert.Equal(t, "r1", gjson.Get(lines[0], "request_id").String())
	assert.NotEmpty(t, gjson.Get(lines[0], "ts").String())
	assert.Equal(t, int64(3), gjson.Get(lines[1], "batch_items").Int())
}

func TestTrackerPublishesToBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	tr, err := NewTracker("", b)
	require.NoError(t, err)
	tr.Record(RequestEvent{RequestID: "live"})

	select {
	case msg := <-ch:
		assert.Equal(t, "live", gjson.GetBytes(msg, "request_id").String())
	case <-time.After(time.Second):
		t.Fatal("no event broadcast")
	}
}

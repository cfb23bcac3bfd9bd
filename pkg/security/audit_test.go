package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuditEvent(t *testing.T) {
	ok := NewAuditEvent(EventKillSwitch, "root", "budget", "kill", nil)
	assert.Equal(t, "success", ok.Result)
	assert.Empty(t, ok.Error)
	assert.False(t, ok.Timestamp.IsZero())

	failed := NewAuditEvent(EventStoreClear, "scout", "lounge", "clear", errors.New("root only")).
		WithTarget("lounge").
		WithMetadata("entries", "12")
	assert.Equal(t, "failure", failed.Result)
	assert.Equal(t, "root only", failed.Error)
	assert.Equal(t, "lounge", failed.Target)
	assert.Equal(t, "12", failed.Metadata["entries"])
}

func TestInMemoryAuditLogger(t *testing.T) {
	logger := NewInMemoryAuditLogger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eventType := EventAgentSpawn
			if i%2 == 0 {
				eventType = EventAgentClose
			}
			logger.Log(NewAuditEvent(eventType, "root", "registry", "op", nil))
		}(i)
	}
	wg.Wait()

	assert.Len(t, logger.Events(""), 50)
	assert.Len(t, logger.Events(EventAgentClose), 25)
	require.NoError(t, logger.Close())
}

func TestLogAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogAuditLogger(zerolog.New(&buf))

	logger.Log(NewAuditEvent(EventRoutingDenied, "scout-1", "router", "send", errors.New("upward")).WithTarget("scholar-1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "audit", line["component"])
	assert.Equal(t, EventRoutingDenied, line["event_type"])
	assert.Equal(t, "scholar-1", line["target"])
	assert.Equal(t, "upward", line["error"])
}

func TestNoOpAuditLogger(t *testing.T) {
	var l AuditLogger = NewNoOpAuditLogger()
	l.Log(NewAuditEvent(EventCheckpoint, "", "", "", nil))
	assert.NoError(t, l.Close())
}

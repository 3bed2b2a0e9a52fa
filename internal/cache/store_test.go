package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Envelope freshness is pure logic, testable without a live Redis.

func TestEnvelopeFreshness(t *testing.T) {
	now := time.Now()

	env := envelope{
		StoredAt:  now.Unix(),
		ExpiresAt: now.Add(10 * time.Minute).Unix(),
	}
	assert.True(t, env.fresh(now))
	assert.True(t, env.fresh(now.Add(9*time.Minute)))
	assert.False(t, env.fresh(now.Add(10*time.Minute)))
	assert.False(t, env.fresh(now.Add(time.Hour)))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	data, err := json.Marshal(payload{Name: "widget", Count: 3})
	require.NoError(t, err)

	now := time.Now()
	env := envelope{
		StoredAt:  now.Unix(),
		ExpiresAt: now.Add(time.Minute).Unix(),
		Data:      data,
	}

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, env.StoredAt, decoded.StoredAt)
	assert.Equal(t, env.ExpiresAt, decoded.ExpiresAt)

	var p payload
	require.NoError(t, json.Unmarshal(decoded.Data, &p))
	assert.Equal(t, "widget", p.Name)
	assert.Equal(t, 3, p.Count)
}

func TestTTLOrdering(t *testing.T) {
	// Faster-moving data must carry shorter freshness windows
	assert.Less(t, TTLCurrentPrice, TTLAnalysis)
	assert.Less(t, TTLAnalysis, TTLSeries)
	assert.Less(t, TTLSeries, TTLProductMetadata)
	assert.Less(t, TTLProductMetadata, StaleRetention)
}

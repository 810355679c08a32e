package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegistry_ToolsStale(t *testing.T) {
	r := NewClientRegistry()
	a := &Client{ID: "a"}
	b := &Client{ID: "b"}
	r.Add(a)
	r.Add(b)

	assert.ElementsMatch(t, []*Client{a, b}, r.MarkToolsStale())
	assert.Empty(t, r.MarkToolsStale(), "clients are notified once per listing")

	r.ToolsListed("b")
	r.ToolsListed("")
	r.ToolsListed("gone")
	assert.Equal(t, []*Client{b}, r.MarkToolsStale())

	// A reconnect under the same ID starts fresh.
	r.Remove("a")
	r.Add(a)
	assert.Equal(t, []*Client{a}, r.MarkToolsStale())
}

func TestClientRegistry_Snapshot(t *testing.T) {
	r := NewClientRegistry()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Add(&Client{ID: "late", ConnectedAt: now.Add(-time.Minute), LastActivity: now.Add(-time.Minute)})
	r.Add(&Client{ID: "early", ConnectedAt: now.Add(-time.Hour), LastActivity: now.Add(-time.Hour)})
	assert.Len(t, r.All(), 2)

	r.Touch("early")
	r.MarkToolsStale()
	r.ToolsListed("late")

	infos := r.Snapshot()
	require.Len(t, infos, 2)
	assert.Equal(t, "early", infos[0].ID)
	assert.Equal(t, now, infos[0].LastActivity)
	assert.False(t, infos[0].Idle)
	assert.True(t, infos[0].ToolsStale)
	assert.Equal(t, "late", infos[1].ID)
	assert.False(t, infos[1].ToolsStale)

	r.now = func() time.Time { return now.Add(idleAfter + time.Second) }
	for _, info := range r.Snapshot() {
		assert.True(t, info.Idle, info.ID)
	}

	r.Remove("late")
	assert.Len(t, r.All(), 1)
}

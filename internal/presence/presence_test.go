package presence

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("just under the threshold is online", func(t *testing.T) {
		assert.Equal(t, "Online", Text(now.Add(-119*time.Second), now))
	})

	t.Run("just over the threshold is last seen", func(t *testing.T) {
		got := Text(now.Add(-121*time.Second), now)
		assert.True(t, strings.HasPrefix(got, "Last seen "), "got %q", got)
	})

	t.Run("never seen is offline", func(t *testing.T) {
		assert.Equal(t, "Offline", Text(time.Time{}, now))
	})

	t.Run("hours ago reads naturally", func(t *testing.T) {
		got := Text(now.Add(-3*time.Hour), now)
		assert.Contains(t, got, "hours ago")
	})
}

func TestHeartbeatBeatsImmediately(t *testing.T) {
	var beats atomic.Int64
	h := NewHeartbeat(time.Hour, func() { beats.Add(1) })
	h.Start()
	defer h.Stop()

	assert.Equal(t, int64(1), beats.Load())
}

func TestHeartbeatTicksUntilStopped(t *testing.T) {
	var beats atomic.Int64
	h := NewHeartbeat(5*time.Millisecond, func() { beats.Add(1) })
	h.Start()

	require.Eventually(t, func() bool { return beats.Load() >= 3 }, 2*time.Second, time.Millisecond)

	h.Stop()
	h.Stop() // idempotent

	settled := beats.Load()
	time.Sleep(30 * time.Millisecond)
	// At most one tick could already be in flight when Stop ran.
	assert.LessOrEqual(t, beats.Load(), settled+1)
}

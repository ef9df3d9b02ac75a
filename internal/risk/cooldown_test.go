package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldownSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	s, err := NewCooldownStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Add("ETH/USDT", DirectionLong, 2450.5, "stopped_out", 0))

	entry, active := s.IsActive("ETH/USDT", DirectionLong)
	require.True(t, active)
	assert.InDelta(t, 2450.5, entry.Price, 1e-9)
	assert.Equal(t, "stopped_out", entry.Reason)
	assert.WithinDuration(t, time.Now().Add(DefaultCooldown), entry.ExpiresAt, time.Minute)

	_, active = s.IsActive("ETH/USDT", DirectionShort)
	assert.False(t, active, "cooldowns are per direction")

	// A fresh store over the same directory reads the same state back.
	reloaded, err := NewCooldownStore(dir)
	require.NoError(t, err)
	entry, active = reloaded.IsActive("ETH/USDT", DirectionLong)
	require.True(t, active)
	assert.Equal(t, "stopped_out", entry.Reason)
}

func TestCooldownExpiry(t *testing.T) {
	s, err := NewCooldownStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Add("BTC/USDT", DirectionShort, 60000, "target_hit", 20*time.Millisecond))
	_, active := s.IsActive("BTC/USDT", DirectionShort)
	require.True(t, active)

	time.Sleep(40 * time.Millisecond)
	_, active = s.IsActive("BTC/USDT", DirectionShort)
	assert.False(t, active)
	assert.Empty(t, s.Active())
}

func TestCooldownLoadDropsExpired(t *testing.T) {
	dir := t.TempDir()
	payload := `{
		"ETH/USDT": {"LONG": {"expires_at": "2020-01-01T00:00:00Z", "price": 100, "reason": "old"}},
		"BTC/USDT": {"SHORT": {"expires_at": "2099-01-01T00:00:00Z", "price": 50000, "reason": "live"}}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, cooldownFile), []byte(payload), 0o644))

	s, err := NewCooldownStore(dir)
	require.NoError(t, err)

	_, active := s.IsActive("ETH/USDT", DirectionLong)
	assert.False(t, active)
	entry, active := s.IsActive("BTC/USDT", DirectionShort)
	require.True(t, active)
	assert.Equal(t, "live", entry.Reason)
}

func TestCooldownCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, cooldownFile), []byte("{oops"), 0o644))

	s, err := NewCooldownStore(dir)
	require.NoError(t, err)
	assert.Empty(t, s.Active())

	require.NoError(t, s.Add("ETH/USDT", DirectionLong, 100, "stopped_out", time.Hour))
	_, active := s.IsActive("ETH/USDT", DirectionLong)
	assert.True(t, active)
}

func TestCooldownClear(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCooldownStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Add("BTC/USDT", DirectionLong, 60000, "stopped_out", time.Hour))
	require.NoError(t, s.Add("BTC/USDT", DirectionShort, 60000, "stopped_out", time.Hour))
	require.NoError(t, s.Add("SOL/USDT", DirectionLong, 150, "stopped_out", time.Hour))

	require.NoError(t, s.Clear("BTC/USDT", DirectionLong))
	_, active := s.IsActive("BTC/USDT", DirectionLong)
	assert.False(t, active)
	_, active = s.IsActive("BTC/USDT", DirectionShort)
	assert.True(t, active, "the other direction stays")

	// Empty direction clears the whole symbol, and the clear persists.
	require.NoError(t, s.Clear("BTC/USDT", ""))
	reloaded, err := NewCooldownStore(dir)
	require.NoError(t, err)
	_, active = reloaded.IsActive("BTC/USDT", DirectionShort)
	assert.False(t, active)
	_, active = reloaded.IsActive("SOL/USDT", DirectionLong)
	assert.True(t, active)

	require.NoError(t, s.ClearAll())
	assert.Empty(t, s.Active())
}

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fencewatch/internal/alert"
	"fencewatch/internal/config"
)

func TestParseNotifyKinds(t *testing.T) {
	t.Parallel()

	kinds, err := parseNotifyKinds(nil)
	require.NoError(t, err)
	assert.Equal(t, []alert.Kind{alert.KindOutOfRange}, kinds, "default is out_of_range only")

	kinds, err = parseNotifyKinds([]string{"out_of_range", "low_battery"})
	require.NoError(t, err)
	assert.Equal(t, []alert.Kind{alert.KindOutOfRange, alert.KindLowBattery}, kinds)

	// Legacy feed labels are not valid config values.
	_, err = parseNotifyKinds([]string{"out_of_zone"})
	assert.Error(t, err)
}

func TestMapEngineConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}

	engCfg, sweep, err := mapEngineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "10s", engCfg.DedupWindow.String())
	assert.Equal(t, "5s", engCfg.AutoDismiss.String())
	assert.Equal(t, "1m0s", engCfg.LedgerMaxAge.String(), "6x dedup window")
	assert.Equal(t, "@every 1m", sweep)

	cfg.Engine.DedupWindow = "bogus"
	_, _, err = mapEngineConfig(cfg)
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Feed.Addr = "127.0.0.1:6379"
	cfg.Feed.OwnerID = "owner-1"
	require.NoError(t, validateConfig(cfg))

	bad := *cfg
	bad.Engine.SweepSchedule = "not a schedule"
	assert.Error(t, validateConfig(&bad))

	bad = *cfg
	bad.Feed.OwnerID = " "
	assert.Error(t, validateConfig(&bad))

	bad = *cfg
	bad.Storage = &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "nope"}
	assert.Error(t, validateConfig(&bad))
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnv_Defaults(t *testing.T) {
	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "6600", cfg.Port)
	assert.Equal(t, "8080", cfg.AdminPort)
	assert.Equal(t, "3.0", cfg.MinClientVersion)
	assert.Equal(t, 10, cfg.MapQueueTarget)
	assert.Equal(t, 30, cfg.MapQueueCap)
	assert.Equal(t, 20*time.Second, cfg.MapFetchTimeout)
	assert.Equal(t, 60*time.Second, cfg.ReconnectLinger)
	assert.Equal(t, "30-S", cfg.RateLimitRequests)
	assert.Len(t, cfg.TeamPalette, 6)
	assert.Equal(t, 6, cfg.JoinCodeLength)
	assert.False(t, cfg.DevelopmentMode)
}

func TestValidateEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("MIN_CLIENT_VERSION", "4.2")
	t.Setenv("MAP_FETCH_TIMEOUT_SECONDS", "5")
	t.Setenv("DEVELOPMENT_MODE", "true")
	t.Setenv("TEAM_PALETTE", "Alpha:112233,Beta:aabbcc")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "4.2", cfg.MinClientVersion)
	assert.Equal(t, 5*time.Second, cfg.MapFetchTimeout)
	assert.True(t, cfg.DevelopmentMode)
	require.Len(t, cfg.TeamPalette, 2)
	assert.Equal(t, "Alpha", cfg.TeamPalette[0].Name)
	assert.Equal(t, "AABBCC", cfg.TeamPalette[1].Color, "colors are normalized to upper case")
}

func TestValidateEnv_CollectsEveryFailure(t *testing.T) {
	t.Setenv("PORT", "99999")
	t.Setenv("ADMIN_PORT", "zero")
	t.Setenv("MIN_CLIENT_VERSION", "three")
	t.Setenv("JOINCODE_LENGTH", "2")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "ADMIN_PORT")
	assert.Contains(t, err.Error(), "MIN_CLIENT_VERSION")
	assert.Contains(t, err.Error(), "JOINCODE_LENGTH")
}

func TestValidateEnv_QueueTargetAboveCapacity(t *testing.T) {
	t.Setenv("MAP_QUEUE_TARGET", "50")
	t.Setenv("MAP_QUEUE_CAPACITY", "30")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAP_QUEUE_TARGET")
}

func TestParseTeamPalette(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantLen int
		wantErr string
	}{
		{name: "two teams", raw: "Red:FF0000,Blue:0000FF", wantLen: 2},
		{name: "trailing comma", raw: "Red:FF0000,Blue:0000FF,", wantLen: 2},
		{name: "missing color", raw: "Red", wantErr: "Name:HexColor"},
		{name: "short color", raw: "Red:F00,Blue:0000FF", wantErr: "6-digit hex"},
		{name: "bad hex", raw: "Red:GGGGGG,Blue:0000FF", wantErr: "6-digit hex"},
		{name: "duplicate name", raw: "Red:FF0000,Red:00FF00", wantErr: "duplicate"},
		{name: "single team", raw: "Red:FF0000", wantErr: "at least 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			palette, err := ParseTeamPalette(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, palette, tt.wantLen)
		})
	}
}

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niktheblak/switchbot-influxdb/internal/config"
)

func TestMissingTokenIsStartupError(t *testing.T) {
	t.Setenv("INFLUXDB_TOKEN", "")

	for _, sub := range []string{"run", "poll"} {
		rootCmd.SetArgs([]string{sub, "--log.level", "error"})
		err := Execute()
		var se *config.StartupError
		require.ErrorAs(t, err, &se, sub)
		assert.Equal(t, "influxdb.token", se.Key)
		assert.ErrorIs(t, err, config.ErrMissingToken)
	}
	rootCmd.SetArgs(nil)
}

package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siqueiraa/LiftFlow/pkg/config"
)

func TestFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kafka:\n  topic: from-file\nlogging:\n  verbosity: 1\n"), 0o600))

	var opts Options
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	opts.Bind(cmd)
	cmd.SetArgs([]string{"--config", path, "--brokers", "a:9092,b:9092", "-vv"})
	require.NoError(t, cmd.Execute())

	cfg, log, err := opts.Load(func(c *config.AppConfig) { c.LoadGen.Total = 42 })
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "from-file", cfg.Kafka.Topic)
	assert.Equal(t, 2, cfg.Logging.Verbosity)
	assert.Equal(t, 42, cfg.LoadGen.Total)
}

func TestLoadRejectsInvalidOverride(t *testing.T) {
	var opts Options
	_, _, err := opts.Load(func(c *config.AppConfig) { c.Sink.Backend = "tape" })
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 5*time.Millisecond, cfg.MonitorTick)
	assert.Equal(t, 100, cfg.DefaultLimit)
	assert.Equal(t, ":8000", cfg.Addr())
	assert.Equal(t, language.English, cfg.Language())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
port: 9001
share: true
froze_time: 2s
profile: 150ms
autotest: "*"
lang: de-CH
`)

	cfg, err := Load(path, false)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Port)
	assert.True(t, cfg.Share)
	assert.Equal(t, 2*time.Second, cfg.FrozeTime)
	assert.Equal(t, Names{"*"}, cfg.Autotest)
	assert.Equal(t, "screens", cfg.ScreensDir, "unset keys keep their default")
	assert.Equal(t, 150*time.Millisecond, cfg.Watchdog().Profile)
}

func TestLoad_AutotestList(t *testing.T) {
	cfg, err := Load(writeConfig(t, "autotest: [a.yaml, b.yaml]\n"), false)
	require.NoError(t, err)
	assert.Equal(t, Names{"a.yaml", "b.yaml"}, cfg.Autotest)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.yaml")

	cfg, err := Load(missing, true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(missing, false)
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown key":   "prot: 1\n",
		"bad port":      "port: 70000\n",
		"bad limit":     "default_limit: 0\n",
		"bad lang":      "lang: x_!!\n",
		"froze no tick": "froze_time: 1s\nmonitor_tick: 0s\n",
		"bad autotest":  "autotest: {a: 1}\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content), false)
			assert.Error(t, err)
		})
	}
}

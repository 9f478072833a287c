package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/recstore/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func Test_Load_Returns_Defaults_When_No_Config_Files(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, "recstore", cfg.Path)
	assert.Equal(t, 100_000, cfg.RecordCount)
	assert.Equal(t, 256, cfg.RecordSize)
	assert.Equal(t, config.Duration(time.Hour), cfg.StatsInterval)
	assert.Equal(t, filepath.Join(dir, "recstore"), cfg.PathAbs)
	assert.Empty(t, cfg.Sources.Global)
	assert.Empty(t, cfg.Sources.Project)
}

func Test_Load_Applies_Precedence_When_All_Layers_Present(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := filepath.Join(dir, "xdg")

	writeFile(t, filepath.Join(xdg, "recstore", "config.json"), `{
		// global defaults
		"record_count": 500,
		"record_size": 64,
		"log_level": "warn",
	}`)
	writeFile(t, filepath.Join(dir, config.FileName), `{"record_size": 128, "stats_interval": "5m"}`)

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: dir,
		Env:             map[string]string{"XDG_CONFIG_HOME": xdg},
		Overrides:       config.Overrides{Path: "/abs/store"},
	})
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.RecordCount, "from global")
	assert.Equal(t, 128, cfg.RecordSize, "project beats global")
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, config.Duration(5*time.Minute), cfg.StatsInterval)
	assert.Equal(t, "/abs/store", cfg.PathAbs, "CLI override beats files")
	assert.Equal(t, filepath.Join(xdg, "recstore", "config.json"), cfg.Sources.Global)
	assert.Equal(t, filepath.Join(dir, config.FileName), cfg.Sources.Project)
}

func Test_Load_Returns_Error_When_Explicit_Config_Missing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := config.Load(config.LoadInput{WorkDirOverride: dir, ConfigPath: "nope.json", Env: map[string]string{}})
	require.ErrorIs(t, err, config.ErrFileNotFound)
}

func Test_Load_Uses_Explicit_Config_Instead_Of_Project_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, config.FileName), `{"record_count": 1}`)
	writeFile(t, filepath.Join(dir, "other.json"), `{"record_count": 7}`)

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, ConfigPath: "other.json", Env: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.RecordCount)
	assert.Equal(t, filepath.Join(dir, "other.json"), cfg.Sources.Project)
}

func Test_Load_Returns_ErrInvalid_When_File_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{name: "syntax", content: `{"record_count": }`, wantMsg: "invalid JSONC"},
		{name: "unknown field", content: `{"records": 5}`, wantMsg: "unknown field"},
		{name: "bad duration", content: `{"stats_interval": "soon"}`, wantMsg: "invalid duration"},
		{name: "bad log level", content: `{"log_level": "loud"}`, wantMsg: "log_level"},
		{name: "record size too small", content: `{"record_size": 4}`, wantMsg: "record_size"},
		{name: "negative max file", content: `{"max_data_file_size": -1}`, wantMsg: "max_data_file_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, config.FileName), tt.content)

			_, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
			require.ErrorIs(t, err, config.ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func Test_Validate_Reports_All_Violations(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Path = ""
	cfg.RecordCount = 0

	err := config.Validate(cfg)
	require.ErrorIs(t, err, config.ErrInvalid)
	assert.Contains(t, err.Error(), "path: required")
	assert.Contains(t, err.Error(), "record_count")
}

func Test_Write_Round_Trips_Through_Load(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)

	cfg := config.Default()
	cfg.RecordCount = 42
	cfg.StatsInterval = config.Duration(90 * time.Second)

	require.NoError(t, config.Write(path, cfg, false))

	loaded, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.RecordCount)
	assert.Equal(t, config.Duration(90*time.Second), loaded.StatsInterval)

	require.ErrorIs(t, config.Write(path, cfg, false), config.ErrFileExists)
	require.NoError(t, config.Write(path, cfg, true))
}

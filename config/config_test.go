package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ARCHIVE_ROOT", t.TempDir())

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("{}\n"), 0o644))
	t.Setenv(ConfigPathEnvVar, empty)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultPathFormatter, cfg.PathFormatter)
	assert.Empty(t, cfg.FilenameFormatter)
	assert.Equal(t, DefaultFpackPath, cfg.FpackPath)
	assert.Equal(t, []string{"-S", "-"}, cfg.FpackArgv())
	assert.Equal(t, 2*time.Minute, cfg.FpackTimeout)
	assert.Equal(t, int64(50*1024*1024), cfg.MaxUploadSize)
	assert.False(t, cfg.AuthEnabled())
	assert.True(t, filepath.IsAbs(cfg.ArchiveRoot))
}

func TestLoadConfigFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "path_formatter: \"{SITEID}/{TELID}/\"\nfilename_formatter: \"{FNAME}\"\nport: \"9000\"\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("ARCHIVE_ROOT", dir)
	t.Setenv("PORT", "9100")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "{SITEID}/{TELID}/", cfg.PathFormatter)
	assert.Equal(t, "{FNAME}", cfg.FilenameFormatter)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.HTTPRoot = "not a url"
	require.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.LogFormat = "xml"
	require.Error(t, cfg.Validate())

	require.NoError(t, defaultConfig().Validate())
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, int64(200), cfg.Server.MaxUploadMB)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.VisionModel)
	assert.Equal(t, "whisper-1", cfg.AI.SpeechModel)
	assert.Equal(t, os.TempDir(), cfg.Server.UploadDir)
	assert.Equal(t, "comply.incidents", cfg.Storage.NATSSubject)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":9000"
ai:
  vision_model: gpt-4o
detector:
  change_threshold: 0.2
`), 0o644))

	t.Setenv("VISION_MODEL", "gpt-4o-2024")
	t.Setenv("UPLOAD_DIR", "/srv/uploads")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "gpt-4o-2024", cfg.AI.VisionModel) // env beats file
	assert.Equal(t, "/srv/uploads", cfg.Server.UploadDir)
	assert.Equal(t, 0.2, cfg.Detector.ChangeThreshold)
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shield.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Seed.RotationWindow)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.True(t, cfg.Families.Canvas)
}

func TestLoadOverridesFromYAML(t *testing.T) {
	path := writeConfig(t, `
seed:
  salt: pepper
  rotation_window: 1h
  rotation_check: 1m
noise:
  pixels:
    stride: 7
families:
  battery: false
storage:
  ttl: 2h
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pepper", cfg.Seed.Salt)
	assert.Equal(t, time.Hour, cfg.Seed.RotationWindow)
	assert.Equal(t, 7, cfg.Noise.Pixels.Stride)
	assert.False(t, cfg.Families.Battery)
	assert.True(t, cfg.Families.Audio, "unset keys keep defaults")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SHIELD_SALT", "from-env")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Seed.Salt)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Storage.MongoDB.URI)
}

func TestValidationRejectsShortTTL(t *testing.T) {
	path := writeConfig(t, `
seed:
  rotation_window: 1h
storage:
  ttl: 30m
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.ttl")
}

func TestValidationRejectsMongoWithoutURI(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: mongodb
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongodb.uri")
}

func TestValidationRejectsBadDelays(t *testing.T) {
	path := writeConfig(t, `
delay:
  min: 2s
  max: 1s
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestGeneratorKey(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
seed:
  generator: SFC32
`))
	require.NoError(t, err)
	assert.Equal(t, "SFC32", cfg.Seed.Generator)

	_, err = Load(writeConfig(t, `
seed:
  generator: mersenne
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed.generator")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "shield.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "change-me", cfg.Seed.Salt)
	assert.Equal(t, 2500*time.Millisecond, cfg.Delay.Cap)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "mulberry32", cfg.Seed.Generator)
	assert.Equal(t, 32, cfg.Noise.Pixels.PatchSize)
	assert.True(t, cfg.Families.WebGPU)
}

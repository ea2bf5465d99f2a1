package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test from an empty directory so no stray config.yaml or
// .env is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenExpiry)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTTL)
	assert.Equal(t, "minio", cfg.Storage.Type)
	assert.Equal(t, int64(16<<20), cfg.Upload.MaxSizeBytes)
	assert.Contains(t, cfg.Upload.AllowedExtensions, "docx")
	assert.Equal(t, 24, cfg.Share.DefaultHours)
	assert.Equal(t, 720, cfg.Share.MaxHours)
	assert.Equal(t, "./data/audit.db", cfg.GetDSN())
	assert.Equal(t, gin.DebugMode, cfg.GetGINMode())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := chdirTemp(t)

	file := filepath.Join(dir, "filevault.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  mode: release
  public_url: https://files.example.com
storage:
  type: s3
  s3:
    bucket: from-file
upload:
  max_size_bytes: 1024
  allowed_extensions: [txt, md]
database:
  type: postgres
  postgres:
    host: db.internal
    username: vault
    database: audit
`), 0o600))

	t.Setenv("S3_BUCKET_NAME", "from-env")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Storage.S3.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
	assert.Equal(t, "0123456789abcdef0123", cfg.Auth.JWTSecret)
	assert.Equal(t, 3, cfg.Cache.Redis.DB)
	assert.Equal(t, int64(1024), cfg.Upload.MaxSizeBytes)
	assert.Equal(t, []string{"txt", "md"}, cfg.Upload.AllowedExtensions)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, gin.ReleaseMode, cfg.GetGINMode())
	assert.Equal(t, "host=db.internal port=5432 user=vault password= dbname=audit sslmode=disable", cfg.GetDSN())
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MINIO_BUCKET_NAME=dotenv-bucket\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MINIO_BUCKET_NAME") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv-bucket", cfg.Storage.MinIO.BucketName)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdirTemp(t)
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
		{"unknown storage", func(c *Config) { c.Storage.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3"; c.Storage.S3.Bucket = "" }},
		{"postgres without host", func(c *Config) { c.Database.Type = "postgres" }},
		{"no extensions", func(c *Config) { c.Upload.AllowedExtensions = nil }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"share max below default", func(c *Config) { c.Share.MaxHours = c.Share.DefaultHours - 1 }},
		{"bad public url", func(c *Config) { c.Server.PublicURL = "not a url" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			cfg.Upload.AllowedExtensions = append([]string(nil), base.Upload.AllowedExtensions...)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base.Validate())
}

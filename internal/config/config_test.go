package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDatabase, EnvOwner, EnvLease} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, Dir), 0o755))
	require.NoError(t, os.WriteFile(Path(root), []byte(body), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, Default(root), cfg)
	assert.Equal(t, filepath.Join(root, ".stepwise", "stepwise.db"), cfg.DatabasePath())
	assert.Equal(t, 30*time.Minute, cfg.LeaseDuration())
	assert.Equal(t, 5*time.Second, cfg.BusyTimeoutDuration())
	assert.Empty(t, cfg.Owner)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeConfig(t, root, "database: state/coord.db\nlease: 10m\nbusy_timeout: 250ms\nowner: builder\nmax_readers: 2\n")

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "state", "coord.db"), cfg.DatabasePath())
	assert.Equal(t, 10*time.Minute, cfg.LeaseDuration())
	assert.Equal(t, 250*time.Millisecond, cfg.BusyTimeoutDuration())
	assert.Equal(t, "builder", cfg.Owner)
	assert.Equal(t, 2, cfg.MaxReaders)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeConfig(t, root, "lease: 1h\n")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.LeaseDuration())
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, DefaultBusyTimeout, cfg.BusyTimeoutDuration())
	assert.Equal(t, DefaultMaxReaders, cfg.MaxReaders)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeConfig(t, root, "# nothing yet\n")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, Default(root), cfg)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeConfig(t, root, "lease: 10m\nowner: from-file\n")

	abs := filepath.Join(t.TempDir(), "elsewhere.db")
	t.Setenv(EnvDatabase, abs)
	t.Setenv(EnvOwner, "from-env")
	t.Setenv(EnvLease, "2m")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, abs, cfg.DatabasePath(), "absolute paths are not joined to the root")
	assert.Equal(t, "from-env", cfg.Owner)
	assert.Equal(t, 2*time.Minute, cfg.LeaseDuration())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  string
		want string
	}{
		{"unknown key", "leases: 10m\n", "", "leases"},
		{"bad duration", "lease: soon\n", "", "invalid duration"},
		{"negative duration", "busy_timeout: -1s\n", "", "must be positive"},
		{"empty database", "database: \"\"\n", "", "database is required"},
		{"zero readers", "max_readers: 0\n", "", "max_readers must be positive"},
		{"bad env lease", "", "forever", EnvLease},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			root := t.TempDir()
			if tt.body != "" {
				writeConfig(t, root, tt.body)
			}
			if tt.env != "" {
				t.Setenv(EnvLease, tt.env)
			}

			_, err := Load(root)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteDefault(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	path, written, err := WriteDefault(root, false)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, Path(root), path)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, Default(root), cfg, "the template decodes to the built-in defaults")

	require.NoError(t, os.WriteFile(path, []byte("lease: 1h\n"), 0o644))
	_, written, err = WriteDefault(root, false)
	require.NoError(t, err)
	assert.False(t, written, "existing file is kept")

	_, written, err = WriteDefault(root, true)
	require.NoError(t, err)
	assert.True(t, written)
}

func TestEnsureDir(t *testing.T) {
	root := t.TempDir()
	cfg := Default(root)
	cfg.Database = "nested/dir/s.db"

	require.NoError(t, cfg.EnsureDir())
	assert.DirExists(t, filepath.Join(root, Dir))
	assert.DirExists(t, filepath.Join(root, "nested", "dir"))
}

func TestDurationMarshal(t *testing.T) {
	out, err := yaml.Marshal(struct {
		Lease Duration `yaml:"lease"`
	}{Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, "lease: 1m30s\n", string(out))
}

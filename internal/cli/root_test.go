package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "selinon", cmd.Use)
	assert.Contains(t, cmd.Long, "YAML or CUE")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "run", "plan", "migrate", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	envFlag := cmd.PersistentFlags().Lookup("env-file")
	require.NotNil(t, envFlag)
	assert.Equal(t, ".env", envFlag.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for _, name := range []string{"db", "redis", "migrations", "args", "only", "follow-subflows", "run-subsequent", "max-steps", "cache-size", "simulate"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "flag %s", name)
	}
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "validate", "testdata/chain.yaml"})
	cmd.SetOut(os.Stderr)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SELINON_TEST_ENV_KEY=from-file\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("SELINON_TEST_ENV_KEY") })

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("SELINON_TEST_ENV_KEY"))

	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	assert.NoError(t, loadEnvFile(""))
}

func TestEnvDefault(t *testing.T) {
	t.Setenv(EnvDB, "/tmp/from-env.db")

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	var dst string
	envDefault(cmd, "db", EnvDB, &dst)
	assert.Equal(t, "/tmp/from-env.db", dst)

	require.NoError(t, cmd.Flags().Set("db", "flag.db"))
	dst = "flag.db"
	envDefault(cmd, "db", EnvDB, &dst)
	assert.Equal(t, "flag.db", dst)
}

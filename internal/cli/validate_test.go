package cli

import (
	"bytes"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeValidate(t *testing.T, format, path string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidate_ValidYAML(t *testing.T) {
	out, err := executeValidate(t, "text", "testdata/chain.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "flow chain: 2 edge(s)")
	assert.Contains(t, out, "flow longchain: 3 edge(s)")
	assert.Contains(t, out, "✓ Definition valid")
}

func TestValidate_ValidCUE(t *testing.T) {
	out, err := executeValidate(t, "text", "testdata/chain.cue")
	require.NoError(t, err)
	assert.Contains(t, out, "flow chain: 2 edge(s)")
}

func TestValidate_JSON(t *testing.T) {
	out, err := executeValidate(t, "json", "testdata/chain.yaml")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, sonic.UnmarshalString(out, &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"chain", "longchain"}, resp.Data.Flows)
	assert.Equal(t, []string{"A", "B", "C"}, resp.Data.Tasks)
}

func TestValidate_UnknownNode(t *testing.T) {
	out, err := executeValidate(t, "text", "testdata/bad.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E103")
	assert.Contains(t, out, "Missing")
}

func TestValidate_UnknownNodeJSON(t *testing.T) {
	out, err := executeValidate(t, "json", "testdata/bad.yaml")
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, sonic.UnmarshalString(out, &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, "E103", resp.Error.Code)
}

func TestValidate_MissingFile(t *testing.T) {
	out, err := executeValidate(t, "text", "testdata/nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
}

func TestValidate_MissingArgs(t *testing.T) {
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

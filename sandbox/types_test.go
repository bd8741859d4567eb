package sandbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	assert.Equal(t, "running", StatusRunning.String())
	assert.True(t, StatusTerminated.IsFinal())
	assert.True(t, StatusFailed.IsFinal())
	assert.False(t, StatusStopping.IsFinal())

	s, err := ParseStatus("Terminated")
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, s)
	_, err = ParseStatus("paused")
	assert.Error(t, err)

	raw, err := json.Marshal(Descriptor{SandboxID: "sbx-1", Status: StatusStopping})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"stopping"`)
	var d Descriptor
	require.NoError(t, json.Unmarshal(raw, &d))
	assert.Equal(t, StatusStopping, d.Status)
}

func TestDescriptorValidate(t *testing.T) {
	running := &Descriptor{SandboxID: "sbx-1", Status: StatusRunning, Endpoint: &Endpoint{BaseURL: "http://127.0.0.1:8080"}}
	assert.NoError(t, running.Validate())

	assert.Error(t, (&Descriptor{SandboxID: "sbx-1", Status: StatusRunning}).Validate())
	assert.Error(t, (&Descriptor{SandboxID: "sbx-1", Status: StatusProvisioning, Endpoint: &Endpoint{BaseURL: "http://x"}}).Validate())
	assert.Error(t, (&Descriptor{Status: StatusProvisioning}).Validate())
	assert.NoError(t, (&Descriptor{SandboxID: "sbx-1", Status: StatusTerminated}).Validate())
}

func TestDescriptorNormalize(t *testing.T) {
	d := &Descriptor{SandboxID: "sbx-1", Status: StatusStopping, Endpoint: &Endpoint{BaseURL: "http://x"}}
	d.Normalize()
	assert.Nil(t, d.Endpoint)
	assert.NoError(t, d.Validate())

	d = &Descriptor{SandboxID: "sbx-1", Status: StatusRunning, Endpoint: &Endpoint{}}
	d.Normalize()
	assert.Equal(t, StatusProvisioning, d.Status)
	assert.Nil(t, d.Endpoint)
	assert.NoError(t, d.Validate())
}

func TestValidateIDs(t *testing.T) {
	err := ValidateScopeID("op", "  ")
	assert.ErrorIs(t, err, ErrInvalidScope)
	assert.True(t, SafeToRetry(err))
	assert.NoError(t, ValidateScopeID("op", "fn-1"))

	assert.ErrorIs(t, ValidateSandboxID("op", ""), ErrNotFound)
	assert.NoError(t, ValidateSandboxID("op", "sbx-1"))
}

func TestCreateOptions(t *testing.T) {
	o, err := NewCreateOptions("op")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeoutMinutes, o.TimeoutMinutes)

	o, err = NewCreateOptions("op", WithTimeout(5), WithEnvs(map[string]string{"A": "1"}), WithMetadata(map[string]string{"k": "v"}))
	require.NoError(t, err)
	assert.Equal(t, 5, o.TimeoutMinutes)
	assert.Equal(t, "1", o.Envs["A"])
	assert.Equal(t, "v", o.Metadata["k"])

	_, err = NewCreateOptions("op", WithTimeout(0))
	assert.ErrorIs(t, err, ErrInvalidScope)
	_, err = NewCreateOptions("op", WithEnvs(map[string]string{"": "x"}))
	assert.ErrorIs(t, err, ErrInvalidScope)
}

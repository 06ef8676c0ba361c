package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/framerelay/internal/capture"
	"github.com/junsooki/framerelay/internal/config"
	"github.com/junsooki/framerelay/internal/permissions"
	"github.com/junsooki/framerelay/internal/push"
	"github.com/junsooki/framerelay/internal/relay"
)

func TestOpenDevices(t *testing.T) {
	p, err := openDevices(config.CameraConfig{Backend: "synthetic", FPS: 30})
	require.NoError(t, err)
	require.NotNil(t, p.Default(capture.PositionFront))
	assert.Nil(t, p.Default(capture.PositionBack))

	_, err = openDevices(config.CameraConfig{Backend: "synthetic", FPS: 0})
	assert.Error(t, err)

	_, err = openDevices(config.CameraConfig{Backend: "v4l2", FPS: 30})
	assert.Error(t, err)
}

func TestBindFlagsOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd := newRootCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"--fps", "12", "--camera", "synthetic"}))

	v, err := config.New("")
	require.NoError(t, err)
	require.NoError(t, bindFlags(v, cmd))

	cfg, err := config.Relay(v)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Camera.FPS)
	// Unset flags keep the defaults.
	assert.Equal(t, ":8090", cfg.Listen)
}

func TestHealthHandler(t *testing.T) {
	r, err := relay.New(relay.Options{
		Devices:    capture.NewProvider(),
		Authorizer: permissions.NewStatic(true),
	})
	require.NoError(t, err)
	defer r.Close()

	rec := httptest.NewRecorder()
	healthHandler("relay-test", r)(rec, httptest.NewRequest("GET", "/healthz", nil))

	var h health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "relay-test", h.Instance)
	assert.Equal(t, relay.StateIdle.String(), h.State)
}

func TestInitPush_DefaultConfigEnablesAutoInit(t *testing.T) {
	m := push.New(push.NopRegistrar{}, "")
	reg := initPush(context.Background(), m, config.PushConfig{})

	assert.True(t, m.IsAutoInitEnabled())
	assert.IsType(t, push.NopRegistrar{}, reg)
}

func TestInitPush_BadCredentialsFallBack(t *testing.T) {
	m := push.New(push.NopRegistrar{}, "")
	reg := initPush(context.Background(), m, config.PushConfig{
		Enabled:         true,
		ProjectID:       "demo",
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
		DeviceToken:     "token",
	})

	assert.True(t, m.IsAutoInitEnabled())
	assert.IsType(t, push.NopRegistrar{}, reg)
}

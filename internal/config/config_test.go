package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultReconnectDelay, cfg.ReconnectDelay)
	assert.Equal(t, DefaultOfferDelay, cfg.OfferDelay)
	assert.Equal(t, DefaultJoinOfferDelay, cfg.JoinOfferDelay)
	assert.Equal(t, 1, cfg.Members)
	assert.Equal(t, []string{DefaultSTUN}, cfg.GetSTUNServers())
	assert.Nil(t, cfg.GetTURNServers())
}

func TestLoadPriority(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile("cafe.toml", []byte(`
base_url = "https://file.example"
username = "from-file"
stun_server = "stun:file.example:3478"
reconnect_delay = "5s"
`), 0o600))
	t.Setenv("CAFE_USERNAME", "from-env")

	cfg, err := Load(Options{BaseURL: "https://flag.example"})
	require.NoError(t, err)

	assert.Equal(t, "https://flag.example", cfg.BaseURL)
	assert.Equal(t, "from-env", cfg.Username)
	assert.Equal(t, "stun:file.example:3478", cfg.STUNServer)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
}

func TestLoadExplicitConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`members = 3`), 0o600))

	cfg, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Members)
}

func TestLoadRejectsInvalidBaseURL(t *testing.T) {
	isolate(t)

	_, err := Load(Options{BaseURL: "ftp://cafe.example"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme must be http or https")

	_, err = Load(Options{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestEndpoints(t *testing.T) {
	isolate(t)

	cfg, err := Load(Options{BaseURL: "https://cafe.example/some/path"})
	require.NoError(t, err)

	assert.Equal(t, "wss://cafe.example/ws/rooms/ABC123/", cfg.SignalingURL("ABC123"))
	assert.Equal(t, "https://cafe.example/rooms/ABC123/", cfg.RoomLink("ABC123"))
	assert.Equal(t, "https://cafe.example/api/chatbot/", cfg.ChatbotURL())
	assert.Equal(t, "https://cafe.example/save-session/", cfg.SaveSessionURL())
	assert.Equal(t, "https://cafe.example", cfg.Origin())

	plain, err := Load(Options{BaseURL: "http://localhost:8000"})
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000/ws/rooms/GLOBAL/", plain.SignalingURL("GLOBAL"))
}

func TestTURNServersAndCookies(t *testing.T) {
	isolate(t)

	cfg, err := Load(Options{
		TURNServer: "turn:relay.example",
		TURNUser:   "u",
		TURNPass:   "p",
		SessionID:  "sess",
		CSRFToken:  "tok",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"turn:relay.example:3478?transport=udp",
		"turn:relay.example:3478?transport=tcp",
		"turns:relay.example:5349?transport=tcp",
	}, cfg.GetTURNServers())

	user, pass := cfg.GetTURNCredentials()
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)

	cookies := cfg.Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "sessionid", cookies[0].Name)
	assert.Equal(t, "csrftoken", cookies[1].Name)
}

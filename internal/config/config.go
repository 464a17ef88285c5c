package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultSTUN           = "stun:stun.l.google.com:19302"
	DefaultReconnectDelay = 3 * time.Second
	DefaultOfferDelay     = 1 * time.Second
	DefaultJoinOfferDelay = 1500 * time.Millisecond
)

// Config holds application configuration
type Config struct {
	// BaseURL is the site root of the study-room web application
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// Username is the local identity; envelopes carrying it are ours
	Username string `mapstructure:"username"`

	// Web framework cookies
	SessionID string `mapstructure:"session_id"`
	CSRFToken string `mapstructure:"csrf_token"`

	// ICE servers for WebRTC
	STUNServer string `mapstructure:"stun_server"`
	TURNServer string `mapstructure:"turn_server"`
	TURNUser   string `mapstructure:"turn_user"`
	TURNPass   string `mapstructure:"turn_pass"`
	ForceRelay bool   `mapstructure:"force_relay"`

	// Capture sources and remote recording
	VideoFile string `mapstructure:"video_file"`
	AudioFile string `mapstructure:"audio_file"`
	RecordDir string `mapstructure:"record_dir"`

	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
	OfferDelay     time.Duration `mapstructure:"offer_delay" validate:"gte=0"`
	JoinOfferDelay time.Duration `mapstructure:"join_offer_delay" validate:"gte=0"`

	// Members is the room member count known when joining
	Members int `mapstructure:"members" validate:"gte=1"`

	DataDir  string `mapstructure:"data_dir" validate:"required"`
	StoreURL string `mapstructure:"store_url" validate:"omitempty,url"`

	base *url.URL
}

// Options for loading config with CLI flag overrides. Zero values mean "not set".
type Options struct {
	ConfigFile string

	BaseURL    string
	Username   string
	SessionID  string
	CSRFToken  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	VideoFile  string
	AudioFile  string
	RecordDir  string
	Members    int
	DataDir    string
	StoreURL   string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (CAFE_ prefix)
// 3. Config file (cafe.toml)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAFE")
	v.AutomaticEnv()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("cafe")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "cafe"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.apply(opts)

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	dataDir := ".cafe"
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "cafe")
	}

	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("username", "")
	v.SetDefault("session_id", "")
	v.SetDefault("csrf_token", "")
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", "")
	v.SetDefault("turn_user", "")
	v.SetDefault("turn_pass", "")
	v.SetDefault("force_relay", false)
	v.SetDefault("video_file", "")
	v.SetDefault("audio_file", "")
	v.SetDefault("record_dir", "")
	v.SetDefault("reconnect_delay", DefaultReconnectDelay)
	v.SetDefault("offer_delay", DefaultOfferDelay)
	v.SetDefault("join_offer_delay", DefaultJoinOfferDelay)
	v.SetDefault("members", 1)
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("store_url", "")
}

func (c *Config) apply(opts Options) {
	override := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	override(&c.BaseURL, opts.BaseURL)
	override(&c.Username, opts.Username)
	override(&c.SessionID, opts.SessionID)
	override(&c.CSRFToken, opts.CSRFToken)
	override(&c.STUNServer, opts.STUNServer)
	override(&c.TURNServer, opts.TURNServer)
	override(&c.TURNUser, opts.TURNUser)
	override(&c.TURNPass, opts.TURNPass)
	override(&c.VideoFile, opts.VideoFile)
	override(&c.AudioFile, opts.AudioFile)
	override(&c.RecordDir, opts.RecordDir)
	override(&c.DataDir, opts.DataDir)
	override(&c.StoreURL, opts.StoreURL)
	if opts.ForceRelay {
		c.ForceRelay = true
	}
	if opts.Members > 0 {
		c.Members = opts.Members
	}
}

func (c *Config) finalize() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return fmt.Errorf("invalid base URL %q: scheme must be http or https", c.BaseURL)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	c.base = base
	return nil
}

// Base returns the parsed site root
func (c *Config) Base() *url.URL {
	u := *c.base
	return &u
}

// SignalingURL returns the per-room websocket endpoint; https sites use wss.
func (c *Config) SignalingURL(roomCode string) string {
	scheme := "ws"
	if c.base.Scheme == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws/rooms/%s/", scheme, c.base.Host, roomCode)
}

// RoomLink returns the web URL for a room code
func (c *Config) RoomLink(roomCode string) string {
	return c.endpoint("/rooms/" + roomCode + "/")
}

// ChatbotURL returns the AI tutor endpoint
func (c *Config) ChatbotURL() string {
	return c.endpoint("/api/chatbot/")
}

// SaveSessionURL returns the study session persistence endpoint
func (c *Config) SaveSessionURL() string {
	return c.endpoint("/save-session/")
}

// Origin is sent on the websocket handshake
func (c *Config) Origin() string {
	return c.base.Scheme + "://" + c.base.Host
}

func (c *Config) endpoint(path string) string {
	u := c.Base()
	u.Path = path
	return u.String()
}

// Cookies returns the web framework cookies configured for this user
func (c *Config) Cookies() []*http.Cookie {
	var cookies []*http.Cookie
	if c.SessionID != "" {
		cookies = append(cookies, &http.Cookie{Name: "sessionid", Value: c.SessionID})
	}
	if c.CSRFToken != "" {
		cookies = append(cookies, &http.Cookie{Name: "csrftoken", Value: c.CSRFToken})
	}
	return cookies
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", trimScheme(c.TURNServer)),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func trimScheme(server string) string {
	for _, prefix := range []string{"turn:", "turns:"} {
		if len(server) > len(prefix) && server[:len(prefix)] == prefix {
			return server[len(prefix):]
		}
	}
	return server
}

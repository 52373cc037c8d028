package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// App holds the settings the crisis service reads from the environment.
type App struct {
	Port string

	AgentID    string
	VoiceKey   string
	VoiceWSURL string

	SinkBackend   string // postgres, mongo, both or none
	ArchiveBucket string

	FixedLocation  string
	GeolocationURL string
	NetworkProbe   string

	Microphone string
	DeviceType string

	JWTSecret string

	ReconnectAttempts  int
	ReconnectDelay     time.Duration
	MaxSessionDuration time.Duration
	IdleTimeout        time.Duration

	GuideAutoStart    time.Duration
	GuideStepDelay    time.Duration
	GuidesAllowOnline bool
}

// LoadApp reads App from the environment, filling defaults.
func LoadApp() App {
	return App{
		Port:       getenv("PORT", "8080"),
		AgentID:    os.Getenv("ELEVENLABS_AGENT_ID"),
		VoiceKey:   os.Getenv("ELEVENLABS_API_KEY"),
		VoiceWSURL: os.Getenv("ELEVENLABS_WS_URL"),

		SinkBackend:   strings.ToLower(getenv("SINK_BACKEND", "none")),
		ArchiveBucket: os.Getenv("ARCHIVE_BUCKET"),

		FixedLocation:  os.Getenv("FIXED_LOCATION"),
		GeolocationURL: os.Getenv("GEOLOCATION_URL"),
		NetworkProbe:   os.Getenv("NETWORK_PROBE_URL"),

		Microphone: getenv("MICROPHONE", "auto"),
		DeviceType: getenv("DEVICE_TYPE", "desktop"),

		JWTSecret: os.Getenv("CONTROL_JWT_SECRET"),

		ReconnectAttempts:  getint("RECONNECT_ATTEMPTS", 3),
		ReconnectDelay:     getduration("RECONNECT_DELAY", 2*time.Second),
		MaxSessionDuration: getduration("MAX_SESSION_DURATION", time.Hour),
		IdleTimeout:        getduration("AUTO_END_IDLE_TIME", 2*time.Minute),

		GuideAutoStart:    getduration("GUIDE_AUTOSTART_DELAY", time.Second),
		GuideStepDelay:    getduration("GUIDE_STEP_DELAY", 1500*time.Millisecond),
		GuidesAllowOnline: os.Getenv("GUIDES_ALLOW_ONLINE") == "true",
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

// getduration accepts Go durations ("90s") or a bare number of seconds.
func getduration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

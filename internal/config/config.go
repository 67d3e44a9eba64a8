package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr      string
	Room      string
	Namespace string
	DataDir   string
	// Peers are websocket URLs dialed at startup.
	Peers            []string
	Discovery        bool
	Service          string
	AwarenessTimeout time.Duration
	// RelayURL is a relay websocket endpoint; the room is appended.
	RelayURL string
	// Relay settings
	RelayAddr   string
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	room := getenv("SYN_ROOM", "lobby")
	return Config{
		Addr:             getenv("SYN_ADDR", ":8080"),
		Room:             room,
		Namespace:        getenv("SYN_NAMESPACE", room),
		DataDir:          getenv("SYN_DATA_DIR", "./data"),
		Peers:            getenvList("SYN_PEERS"),
		Discovery:        getenvBool("SYN_DISCOVERY", true),
		Service:          getenv("SYN_SERVICE", "_syn._tcp"),
		AwarenessTimeout: time.Duration(getenvInt("SYN_AWARENESS_TIMEOUT_SECONDS", 30)) * time.Second,
		RelayURL:         getenv("SYN_RELAY_URL", ""),
		RelayAddr:        getenv("SYN_RELAY_ADDR", ":8081"),
		RedisURL:         redisURL(),
		DatabaseURL:      getenv("DATABASE_URL", ""),
	}
}

// redisURL accepts the bare REDIS_ADDR form too.
func redisURL() string {
	if v := os.Getenv("REDIS_URL"); v != "" {
		return v
	}
	return "redis://" + getenv("REDIS_ADDR", "localhost:6379") + "/0"
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

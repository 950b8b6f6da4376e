package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Directory struct {
		Backend  string // "sqlite" or "s3"
		Path     string
		SeedDemo bool
	}
	Storage struct {
		Bucket   string
		Key      string
		Region   string
		Endpoint string
	}
	AWS struct {
		Profile string
	}
	Charging struct {
		Rate float64 // balance deducted per second while charging
	}
	RFID struct {
		Debounce      time.Duration
		ResolveMode   string // "strict" or "permissive"
		AutoProvision bool
	}
	Cache struct {
		TTL           time.Duration
		SweepInterval time.Duration
	}
	Monitor struct {
		TickInterval time.Duration
	}
	Stream struct {
		Keepalive time.Duration
	}
	Events struct {
		Capacity int
	}
	Hardware struct {
		ReaderDevice string
		RelayPin     int
	}
	Auth struct {
		JWTSecret         string
		AdminPasswordHash string
		TokenTTLMinutes   int
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("KIOSK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("directory.backend", "sqlite")
	v.SetDefault("directory.path", "data/kiosk.db")
	v.SetDefault("directory.seeddemo", false)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.key", "kiosk/users.csv")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("charging.rate", 0.01)
	v.SetDefault("rfid.debounce", "3s")
	v.SetDefault("rfid.resolvemode", "strict")
	v.SetDefault("rfid.autoprovision", false)
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.sweepinterval", "10s")
	v.SetDefault("monitor.tickinterval", "1s")
	v.SetDefault("stream.keepalive", "30s")
	v.SetDefault("events.capacity", 10)
	v.SetDefault("hardware.readerdevice", "")
	v.SetDefault("hardware.relaypin", 18)
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.adminpasswordhash", "")
	v.SetDefault("auth.tokenttlminutes", 60)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Directory.Backend {
	case "sqlite", "s3":
	default:
		return fmt.Errorf("unknown directory backend %q", c.Directory.Backend)
	}
	switch c.RFID.ResolveMode {
	case "strict", "permissive":
	default:
		return fmt.Errorf("unknown resolve mode %q", c.RFID.ResolveMode)
	}
	if c.Charging.Rate <= 0 {
		return fmt.Errorf("charging rate must be positive")
	}
	if c.Events.Capacity <= 0 {
		return fmt.Errorf("events capacity must be positive")
	}
	return nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}

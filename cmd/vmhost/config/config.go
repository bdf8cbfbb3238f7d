package config

import (
	"os"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

type Config struct {
	BridgeName   string
	SubnetCIDR   string
	ImagePath    string
	Workers      int
	Cores        int
	MemoryMB     int
	RegistryPort int
	LogLevel     string
	NodeLogDir   string
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	return &Config{
		BridgeName:   getEnv("BRIDGE_NAME", "tbr0"),
		SubnetCIDR:   getEnv("SUBNET_CIDR", "10.0.0.0/24"),
		ImagePath:    getEnv("IMAGE_PATH", ""),
		Workers:      getEnvInt("WORKERS", 1),
		Cores:        getEnvInt("CORES", 0),
		MemoryMB:     getEnvMemoryMB("MEMORY", 0),
		RegistryPort: getEnvInt("REGISTRY_PORT", 5000),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		NodeLogDir:   getEnv("NODE_LOG_DIR", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvMemoryMB parses human readable sizes like "16GB" or "2048MB".
func getEnvMemoryMB(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(value)); err != nil {
		return defaultValue
	}
	return int(size.MBytes())
}

package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Server
	Mode        string // "prod", "dev" or "demo"
	Addr        string
	Port        int
	InstanceURL string
	Data        string
	Version     string

	// Records store
	Driver string // "postgres" or "sqlite"
	DSN    string

	// KV store (redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Auth
	JWTSecret string

	// Vault master key for the server-side AI-inference cache.
	// Hex encoded, 32 bytes once decoded. This key is distinct from any
	// client content key; the server never holds those.
	VaultMasterKey string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.RedisAddr = getEnvOrDefault("OPENMATES_REDIS_ADDR", p.RedisAddr)
	if p.RedisAddr == "" {
		p.RedisAddr = "localhost:6379"
	}
	p.RedisPassword = getEnvOrDefault("OPENMATES_REDIS_PASSWORD", "")
	p.RedisDB = getEnvOrDefaultInt("OPENMATES_REDIS_DB", 0)

	p.JWTSecret = getEnvOrDefault("OPENMATES_JWT_SECRET", p.JWTSecret)
	p.VaultMasterKey = getEnvOrDefault("OPENMATES_VAULT_MASTER_KEY", p.VaultMasterKey)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" {
		if p.JWTSecret == "" {
			return errors.New("OPENMATES_JWT_SECRET is required in prod mode")
		}
		if p.VaultMasterKey == "" {
			return errors.New("OPENMATES_VAULT_MASTER_KEY is required in prod mode")
		}
	}

	if p.Driver == "sqlite" {
		if p.Data == "" {
			p.Data = "."
		}
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			return err
		}
		p.Data = dataDir
		if p.DSN == "" {
			dbFile := fmt.Sprintf("openmates_%s.db", p.Mode)
			p.DSN = filepath.Join(dataDir, dbFile) + "?_loc=auto"
		}
	}

	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("a DSN is required for the postgres driver")
	}

	return nil
}

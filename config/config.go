package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Signaling SignalingConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

type SignalingConfig struct {
	// RingTimeout bounds how long a call may sit unanswered before the
	// server ends it and notifies both sides.
	RingTimeout   time.Duration
	SendBuffer    int
	WriteWait     time.Duration
	PongWait      time.Duration
	MaxPayloadLen int64
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         env("PORT", "8090"),
			Env:          env("APP_ENV", "development"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             env("DATABASE_DSN", "parley:parley@tcp(localhost:3306)/parley?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: env("JWT_ACCESS_SECRET", "change-me-in-production"),
			AccessExpiry: envDuration("JWT_ACCESS_EXPIRY", 24*time.Hour),
			Issuer:       "parley",
		},
		Signaling: SignalingConfig{
			RingTimeout:   envDuration("CALL_RING_TIMEOUT", 45*time.Second),
			SendBuffer:    envInt("WS_SEND_BUFFER", 256),
			WriteWait:     10 * time.Second,
			PongWait:      60 * time.Second,
			MaxPayloadLen: 64 * 1024,
		},
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

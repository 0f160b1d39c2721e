package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Frontend
	FrontendURL string `env:"FRONTEND_URL,required,notEmpty" validate:"url"`

	// OAuth
	ClientID     string `env:"CLIENT_ID,required,notEmpty"`
	ClientSecret string `env:"CLIENT_SECRET,required,notEmpty"`
	RedirectURI  string `env:"REDIRECT_URI,required,notEmpty" validate:"url"`

	// Discord API
	DiscordAPIBaseURL string        `env:"DISCORD_API_BASE_URL" envDefault:"https://discord.com/api" validate:"url"`
	ProviderTimeout   time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	// Server
	Port string `env:"PORT" envDefault:"3000" validate:"numeric"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
}

// DefaultEnvFile はLoadが読み込む.envファイルのパス。
const DefaultEnvFile = ".env"

// Load は環境変数からConfigを読み込む。
// .envファイルが存在する場合は先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadEnvFile(DefaultEnvFile); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadEnvFile は.envファイルを環境変数に読み込む。ファイルが無い場合は何もしない。
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// GetPort はPORT環境変数を返す。未設定の場合はデフォルトの3000を返す。
// フル初期化を行わないhealthcheckサブコマンド用。
// serveと同じく.envファイルを先に読み込む。
func GetPort() (string, error) {
	if err := loadEnvFile(DefaultEnvFile); err != nil {
		return "", err
	}
	if v := os.Getenv("PORT"); v != "" {
		return v, nil
	}
	return "3000", nil
}

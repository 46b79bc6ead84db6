// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// CollaboratorConfig locates the remote services the engine talks to.
type CollaboratorConfig struct {
	BaseURL        string `mapstructure:"base_url" validate:"required,url"`
	ApiKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"required,gt=0"`
	StartPath      string `mapstructure:"start_path" validate:"required"`
	ExchangePath   string `mapstructure:"exchange_path" validate:"required"`
	TranscribePath string `mapstructure:"transcribe_path" validate:"required"`
	SynthesizePath string `mapstructure:"synthesize_path" validate:"required"`
	EvaluatePath   string `mapstructure:"evaluate_path" validate:"required"`
	PersistPath    string `mapstructure:"persist_path" validate:"required"`
}

func (c CollaboratorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConversationConfig holds the fixed phrases of the roleplay script.
type ConversationConfig struct {
	StartDirective   string `mapstructure:"start_directive" validate:"required"`
	FallbackOpening  string `mapstructure:"fallback_opening" validate:"required"`
	CompletionMarker string `mapstructure:"completion_marker" validate:"required"`
}

type PlaybackConfig struct {
	RetryAttempts int `mapstructure:"retry_attempts" validate:"required,gt=0"`
	RetryDelayMs  int `mapstructure:"retry_delay_ms" validate:"gte=0"`
}

func (c PlaybackConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

type RecorderConfig struct {
	// comma separated, most preferred first
	MimeTypes string `mapstructure:"mime_types"`
}

// PreferredMimeTypes splits MimeTypes, dropping blanks.
func (c RecorderConfig) PreferredMimeTypes() []string {
	return splitList(c.MimeTypes)
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, m := range strings.Split(raw, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// DeviceConfig drives the headless audio adapters.
type DeviceConfig struct {
	InputDir  string `mapstructure:"input_dir" validate:"required"`
	OutputDir string `mapstructure:"output_dir" validate:"required"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Env      string `mapstructure:"env" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path"`

	// comma separated browser origins for CORS and the event websocket, "*" for any
	AllowedOrigins string `mapstructure:"allowed_origins" validate:"required"`

	Collaborator CollaboratorConfig `mapstructure:"collaborator" validate:"required"`
	Conversation ConversationConfig `mapstructure:"conversation" validate:"required"`
	Playback     PlaybackConfig     `mapstructure:"playback" validate:"required"`
	Recorder     RecorderConfig     `mapstructure:"recorder"`
	Device       DeviceConfig       `mapstructure:"device" validate:"required"`
	Store        StoreConfig        `mapstructure:"store" validate:"required"`
}

// Origins splits AllowedOrigins, dropping blanks.
func (c *AppConfig) Origins() []string {
	return splitList(c.AllowedOrigins)
}

// AnyOrigin reports whether AllowedOrigins carries the "*" wildcard.
func (c *AppConfig) AnyOrigin() bool {
	for _, o := range c.Origins() {
		if o == "*" {
			return true
		}
	}
	return false
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil {
		log.Printf("no config file found, reading from environment variables")
	}
	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// keeping watch on https://github.com/spf13/viper/issues/188
	v.SetDefault("SERVICE_NAME", "roleplay-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("ENV", "development")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9090)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_PATH", "")
	v.SetDefault("ALLOWED_ORIGINS", "*")

	v.SetDefault("COLLABORATOR__BASE_URL", "http://localhost:3000")
	v.SetDefault("COLLABORATOR__API_KEY", "")
	v.SetDefault("COLLABORATOR__TIMEOUT_SECONDS", 60)
	v.SetDefault("COLLABORATOR__START_PATH", "/api/start-session")
	v.SetDefault("COLLABORATOR__EXCHANGE_PATH", "/api/chat")
	v.SetDefault("COLLABORATOR__TRANSCRIBE_PATH", "/api/transcribe")
	v.SetDefault("COLLABORATOR__SYNTHESIZE_PATH", "/api/tts")
	v.SetDefault("COLLABORATOR__EVALUATE_PATH", "/api/evaluate")
	v.SetDefault("COLLABORATOR__PERSIST_PATH", "/api/save-result")

	v.SetDefault("CONVERSATION__START_DIRECTIVE", "Iniciar simulação")
	v.SetDefault("CONVERSATION__FALLBACK_OPENING", "Alô? Quem está falando?")
	v.SetDefault("CONVERSATION__COMPLETION_MARKER", "roleplay finalizado")

	v.SetDefault("PLAYBACK__RETRY_ATTEMPTS", 2)
	v.SetDefault("PLAYBACK__RETRY_DELAY_MS", 250)

	v.SetDefault("RECORDER__MIME_TYPES", "audio/webm;codecs=opus,audio/webm,audio/ogg;codecs=opus,audio/mp4,audio/wav")

	v.SetDefault("DEVICE__INPUT_DIR", "./data/utterances")
	v.SetDefault("DEVICE__OUTPUT_DIR", "./data/playback")

	v.SetDefault("STORE__PATH", "./data/roleplay.db")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}

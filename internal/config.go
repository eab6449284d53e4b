package internal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 整個應用的配置
type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Lobby  LobbyConfig  `mapstructure:"lobby" yaml:"lobby"`
	Events EventsConfig `mapstructure:"events" yaml:"events"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Debug  DebugConfig  `mapstructure:"debug" yaml:"debug"`
}

// ServerConfig HTTP 服務配置
type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// LobbyConfig 大廳規則配置
type LobbyConfig struct {
	HeartbeatTTL   time.Duration `mapstructure:"heartbeat_ttl" yaml:"heartbeat_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	MaxNameLength  int           `mapstructure:"max_name_length" yaml:"max_name_length"`
	MaxLobbySize   int           `mapstructure:"max_lobby_size" yaml:"max_lobby_size"`
	MaxDataEntries int           `mapstructure:"max_data_entries" yaml:"max_data_entries"`
	CodeLength     int           `mapstructure:"code_length" yaml:"code_length"`
	CodeAlphabet   string        `mapstructure:"code_alphabet" yaml:"code_alphabet"`
	NameCacheTTL   time.Duration `mapstructure:"name_cache_ttl" yaml:"name_cache_ttl"`
}

// EventsConfig 外部事件發布配置（留空即停用）
type EventsConfig struct {
	RedisAddr          string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword      string        `mapstructure:"redis_password" yaml:"-"`
	RedisDB            int           `mapstructure:"redis_db" yaml:"redis_db"`
	RedisChannelPrefix string        `mapstructure:"redis_channel_prefix" yaml:"redis_channel_prefix"`
	NatsURL            string        `mapstructure:"nats_url" yaml:"nats_url"`
	NatsSubjectPrefix  string        `mapstructure:"nats_subject_prefix" yaml:"nats_subject_prefix"`
	PublishTimeout     time.Duration `mapstructure:"publish_timeout" yaml:"publish_timeout"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DebugConfig 除錯配置
type DebugConfig struct {
	Statsviz bool `mapstructure:"statsviz" yaml:"statsviz"`
}

// StoreConfig 轉換為存儲配置
func (c LobbyConfig) StoreConfig() StoreConfig {
	return StoreConfig{
		HeartbeatTTL: c.HeartbeatTTL,
		MaxLobbySize: c.MaxLobbySize,
		CodeLength:   c.CodeLength,
		CodeAlphabet: c.CodeAlphabet,
	}
}

// DefaultConfig 預設配置
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Lobby: LobbyConfig{
			HeartbeatTTL:   15 * time.Second,
			SweepInterval:  5 * time.Second,
			MaxNameLength:  64,
			MaxLobbySize:   100,
			MaxDataEntries: 16,
			CodeLength:     6,
			CodeAlphabet:   "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
			NameCacheTTL:   time.Hour,
		},
		Events: EventsConfig{
			RedisChannelPrefix: "lobby:events",
			NatsSubjectPrefix:  "lobby.events",
			PublishTimeout:     2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig 載入配置
//
// 優先順序：環境變數（LOBBY_ 前綴，. 轉 _）> 配置檔 > 預設值。
// path 為空時只使用預設值與環境變數。
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("LOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults 註冊所有鍵的預設值（AutomaticEnv 只對已知的鍵生效）
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)

	v.SetDefault("lobby.heartbeat_ttl", d.Lobby.HeartbeatTTL)
	v.SetDefault("lobby.sweep_interval", d.Lobby.SweepInterval)
	v.SetDefault("lobby.max_name_length", d.Lobby.MaxNameLength)
	v.SetDefault("lobby.max_lobby_size", d.Lobby.MaxLobbySize)
	v.SetDefault("lobby.max_data_entries", d.Lobby.MaxDataEntries)
	v.SetDefault("lobby.code_length", d.Lobby.CodeLength)
	v.SetDefault("lobby.code_alphabet", d.Lobby.CodeAlphabet)
	v.SetDefault("lobby.name_cache_ttl", d.Lobby.NameCacheTTL)

	v.SetDefault("events.redis_addr", d.Events.RedisAddr)
	v.SetDefault("events.redis_password", d.Events.RedisPassword)
	v.SetDefault("events.redis_db", d.Events.RedisDB)
	v.SetDefault("events.redis_channel_prefix", d.Events.RedisChannelPrefix)
	v.SetDefault("events.nats_url", d.Events.NatsURL)
	v.SetDefault("events.nats_subject_prefix", d.Events.NatsSubjectPrefix)
	v.SetDefault("events.publish_timeout", d.Events.PublishTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("debug.statsviz", d.Debug.Statsviz)
}

// Validate 檢查配置
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Lobby.HeartbeatTTL <= 0 {
		errs = append(errs, errors.New("lobby.heartbeat_ttl must be positive"))
	}
	if c.Lobby.SweepInterval <= 0 {
		errs = append(errs, errors.New("lobby.sweep_interval must be positive"))
	}
	if c.Lobby.MaxNameLength < 1 {
		errs = append(errs, errors.New("lobby.max_name_length must be at least 1"))
	}
	if c.Lobby.MaxLobbySize < 1 {
		errs = append(errs, errors.New("lobby.max_lobby_size must be at least 1"))
	}
	if c.Lobby.CodeLength < 4 {
		errs = append(errs, errors.New("lobby.code_length must be at least 4"))
	}
	if len(c.Lobby.CodeAlphabet) < 2 {
		errs = append(errs, errors.New("lobby.code_alphabet needs at least 2 characters"))
	}
	// 查詢時會將加入碼轉為大寫
	if c.Lobby.CodeAlphabet != strings.ToUpper(c.Lobby.CodeAlphabet) {
		errs = append(errs, errors.New("lobby.code_alphabet must be upper-case"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModeDev     = "dev"
	ModeRelease = "release"
)

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN は go-sql-driver/mysql 形式。parseTime と UTC は必須
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=false&timeout=3s&readTimeout=5s&writeTimeout=5s&loc=UTC&multiStatements=true&clientFoundRows=true",
		c.Username, c.Password, c.Host, c.Port, c.DBName)
}

type Certs struct {
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
}

type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
	Certificate  Certs    `mapstructure:"certificate"`
	// StaticDir が空でなければ API 以外のパスをフロントのビルド出力で返す
	StaticDir    string   `mapstructure:"static_dir"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type ReportConfig struct {
	Timezone  string        `mapstructure:"timezone"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type Config struct {
	Version string         `mapstructure:"version"`
	Mode    string         `mapstructure:"mode"`
	Server  ServerConfig   `mapstructure:"server"`
	DB      DatabaseConfig `mapstructure:"database"`
	Auth    AuthConfig     `mapstructure:"auth"`
	Log     LogConfig      `mapstructure:"log"`
	Storage StorageConfig  `mapstructure:"storage"`
	Reports ReportConfig   `mapstructure:"reports"`
}

// Load: 環境変数 (LERS_*) > 設定ファイル > デフォルト値
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("version", "dev")
	v.SetDefault("mode", ModeDev)

	v.SetDefault("server.addr", ":8443")
	v.SetDefault("server.allow_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "lers")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "lers")
	// 接続プール（合算がMySQLの max_connections を超えないよう配分する）
	v.SetDefault("database.max_open_conns", 80)
	v.SetDefault("database.max_idle_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.data_dir", "data/requests")

	v.SetDefault("reports.timezone", "Asia/Tokyo")
	v.SetDefault("reports.cache_size", 64)
	v.SetDefault("reports.cache_ttl", "30s")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Mode != ModeDev && c.Mode != ModeRelease {
		return fmt.Errorf("config: mode must be %q or %q, got %q", ModeDev, ModeRelease, c.Mode)
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("config: auth.jwt_secret must be at least 16 characters")
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		return fmt.Errorf("config: database.port out of range: %d", c.DB.Port)
	}
	if _, err := time.LoadLocation(c.Reports.Timezone); err != nil {
		return fmt.Errorf("config: reports.timezone: %w", err)
	}
	return nil
}

// TLSEnabled は証明書と鍵の両方が設定されている場合のみ true
func (c *Config) TLSEnabled() bool {
	return c.Server.Certificate.Cert != "" && c.Server.Certificate.Key != ""
}

func (c *Config) ReportLocation() *time.Location {
	loc, err := time.LoadLocation(c.Reports.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Import   ImportConfig   `mapstructure:"import"`
	Query    QueryConfig    `mapstructure:"query"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the relational store. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`

	// SQLite
	Path string `mapstructure:"path"`

	// PostgreSQL
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	URL      string `mapstructure:"url"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the driver specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		if c.URL != "" {
			return c.URL
		}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
	}

	// foreign_keys must be set per connection so cascades work on every pooled conn.
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	return "file:" + c.Path + "?" + q.Encode()
}

// StorageConfig configures the S3 compatible bucket that source archives can be fetched from.
type StorageConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

// ImportConfig drives the import pipeline.
type ImportConfig struct {
	// ClusterColumns is checked in order; the first column present in the source wins.
	ClusterColumns      []string      `mapstructure:"cluster_columns"`
	CellTypeColumn      string        `mapstructure:"cell_type_column"`
	EmbeddingKey        string        `mapstructure:"embedding_key"`
	CellBatchSize       int           `mapstructure:"cell_batch_size"`
	ExpressionBatchSize int           `mapstructure:"expression_batch_size"`
	DefaultTopGenes     int           `mapstructure:"default_top_genes"`
	WorkDir             string        `mapstructure:"work_dir"`
	DownloadTimeout     time.Duration `mapstructure:"download_timeout"`
}

type QueryConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("admin.token", "ADMIN_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/kmap.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "kmap")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.type", "s3")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.use_ssl", true)

	v.SetDefault("import.cluster_columns", []string{"leiden", "louvain", "cluster"})
	v.SetDefault("import.cell_type_column", "cell_type")
	v.SetDefault("import.embedding_key", "X_umap")
	v.SetDefault("import.cell_batch_size", 2000)
	v.SetDefault("import.expression_batch_size", 10000)
	v.SetDefault("import.default_top_genes", 100)
	v.SetDefault("import.work_dir", "./data/work")
	v.SetDefault("import.download_timeout", 30*time.Minute)

	v.SetDefault("query.cache_size", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations the import pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if len(c.Import.ClusterColumns) == 0 {
		return fmt.Errorf("import.cluster_columns must list at least one column")
	}
	if c.Import.CellBatchSize <= 0 || c.Import.ExpressionBatchSize <= 0 {
		return fmt.Errorf("import batch sizes must be positive")
	}
	if c.Import.DefaultTopGenes < 1 || c.Import.DefaultTopGenes > 5000 {
		return fmt.Errorf("import.default_top_genes must be within 1..5000, got %d", c.Import.DefaultTopGenes)
	}
	return nil
}

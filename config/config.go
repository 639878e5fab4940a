// Package config holds the TOML configuration of the fusion node and maps it
// onto the per-package configuration structs.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/api"
	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/VanDung-dev/HieraChain-Fusion/network"
	"github.com/VanDung-dev/HieraChain-Fusion/sink"
	"github.com/pelletier/go-toml"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Environment variables that override secrets and endpoints from the file.
const (
	EnvRedisAddr        = "FUSION_REDIS_ADDR"
	EnvAmqpURL          = "FUSION_AMQP_URL"
	EnvPostgresPassword = "FUSION_POSTGRES_PASSWORD"
	EnvS3AccessKey      = "FUSION_S3_ACCESS_KEY"
	EnvS3SecretKey      = "FUSION_S3_SECRET_KEY"
	EnvLogLevel         = "FUSION_LOG_LEVEL"
)

// FusionConfig will hold the consensus parameters
type FusionConfig struct {
	Sensors           []int
	Tolerance         float64
	FaultThreshold    int
	RecoveryThreshold int
	MaxFaulty         int
	WindowSize        int
	MaxSafeSlope      float64
}

// AlignerConfig will hold the timestep alignment parameters
type AlignerConfig struct {
	MaxLag         int64
	BatchTimeoutMs int
}

// PipelineConfig will hold the queue sizes of the pipeline goroutine
type PipelineConfig struct {
	QueueSize    int
	ResultBuffer int
	SnapshotSize int
}

// ZeroMQConfig will hold the ROUTER ingest socket settings
type ZeroMQConfig struct {
	Enabled           bool
	NodeID            string
	Host              string
	Port              int
	ReplayToleranceMs int
}

// MQTTConfig will hold the MQTT subscription settings
type MQTTConfig struct {
	Enabled           bool
	Broker            string
	ClientID          string
	Topic             string
	QoS               int
	KeepAlive         int
	ConnectTimeoutMs  int
	ReplayToleranceMs int
}

// HTTPConfig will hold the REST API settings
type HTTPConfig struct {
	Enabled        bool
	Address        string
	DefaultLimit   int
	TrustedProxies []string
}

// ArrowConfig will hold the Arrow IPC session server settings
type ArrowConfig struct {
	Enabled       bool
	Address       string
	IdleTimeoutMs int
}

// AuthConfig will hold the token authentication settings
type AuthConfig struct {
	Enabled bool
	Token   string
}

// MetricsConfig will hold the prometheus settings
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// RedisConfig will hold the redis result sink settings
type RedisConfig struct {
	Enabled     bool
	Addr        string
	DB          int
	KeyPrefix   string
	Channel     string
	HistorySize int
	TTLSeconds  int
}

// AMQPConfig will hold the AMQP result exchange settings
type AMQPConfig struct {
	Enabled       bool
	URL           string
	Exchange      string
	RoutingPrefix string
}

// PostgresConfig will hold the result store settings
type PostgresConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SslMode  string
}

// S3Config will hold the archive bucket settings
type S3Config struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// RateLimitConfig will hold the write endpoint limiter settings. It needs Redis.
type RateLimitConfig struct {
	Enabled   bool
	Limit     int
	WindowMs  int
	KeyPrefix string
}

// SinkConfig will hold the result dispatcher settings
type SinkConfig struct {
	Buffer         int
	WriteTimeoutMs int
}

// Config is the whole node configuration
type Config struct {
	LogLevel  string
	Fusion    FusionConfig
	Aligner   AlignerConfig
	Pipeline  PipelineConfig
	ZeroMQ    ZeroMQConfig
	MQTT      MQTTConfig
	HTTP      HTTPConfig
	Arrow     ArrowConfig
	Auth      AuthConfig
	Metrics   MetricsConfig
	Sink      SinkConfig
	Redis     RedisConfig
	AMQP      AMQPConfig
	Postgres  PostgresConfig
	S3        S3Config
	RateLimit RateLimitConfig
}

// Default returns the configuration used when no file is given. Every
// section of a loaded file is decoded over these values.
func Default() Config {
	eng := engine.DefaultConfig()
	pipe := engine.DefaultPipelineConfig()
	zmq := network.DefaultZmqConfig()
	mqtt := network.DefaultMqttConfig()
	httpCfg := api.DefaultHTTPConfig()
	arrowCfg := api.DefaultArrowConfig()
	redisCfg := sink.DefaultRedisConfig()
	amqpCfg := sink.DefaultAmqpConfig()

	sensors := make([]int, len(eng.Sensors))
	for i, id := range eng.Sensors {
		sensors[i] = int(id)
	}

	return Config{
		LogLevel: "*:INFO",
		Fusion: FusionConfig{
			Sensors:           sensors,
			Tolerance:         eng.Tolerance,
			FaultThreshold:    eng.FaultThreshold,
			RecoveryThreshold: eng.RecoveryThreshold,
			MaxFaulty:         eng.MaxFaulty,
			WindowSize:        eng.WindowSize,
			MaxSafeSlope:      eng.MaxSafeSlope,
		},
		Aligner: AlignerConfig{
			MaxLag:         pipe.Aligner.MaxLag,
			BatchTimeoutMs: int(pipe.Aligner.BatchTimeout / time.Millisecond),
		},
		Pipeline: PipelineConfig{
			QueueSize:    pipe.QueueSize,
			ResultBuffer: pipe.ResultBuffer,
			SnapshotSize: pipe.SnapshotSize,
		},
		ZeroMQ: ZeroMQConfig{
			Enabled:           true,
			NodeID:            zmq.NodeID,
			Host:              zmq.Host,
			Port:              zmq.Port,
			ReplayToleranceMs: int(zmq.ReplayTolerance / time.Millisecond),
		},
		MQTT: MQTTConfig{
			Broker:            mqtt.Broker,
			ClientID:          mqtt.ClientID,
			Topic:             mqtt.Topic,
			QoS:               int(mqtt.QoS),
			KeepAlive:         int(mqtt.KeepAlive),
			ConnectTimeoutMs:  int(mqtt.ConnectTimeout / time.Millisecond),
			ReplayToleranceMs: int(mqtt.ReplayTolerance / time.Millisecond),
		},
		HTTP: HTTPConfig{
			Enabled:      true,
			Address:      httpCfg.Address,
			DefaultLimit: httpCfg.DefaultLimit,
		},
		Arrow: ArrowConfig{
			Enabled:       true,
			Address:       arrowCfg.Address,
			IdleTimeoutMs: int(arrowCfg.IdleTimeout / time.Millisecond),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "fusion",
		},
		Sink: SinkConfig{
			Buffer:         256,
			WriteTimeoutMs: 5000,
		},
		Redis: RedisConfig{
			Addr:        redisCfg.Addr,
			KeyPrefix:   redisCfg.KeyPrefix,
			Channel:     redisCfg.Channel,
			HistorySize: redisCfg.HistorySize,
		},
		AMQP: AMQPConfig{
			URL:           amqpCfg.URL,
			Exchange:      amqpCfg.Exchange,
			RoutingPrefix: amqpCfg.RoutingPrefix,
		},
		Postgres: PostgresConfig{
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "fusion",
			DBName:  "fusion",
			SslMode: "disable",
		},
		S3: S3Config{
			Endpoint: "127.0.0.1:9000",
			Bucket:   "fusion",
			Region:   "us-east-1",
		},
		RateLimit: RateLimitConfig{
			Limit:     100,
			WindowMs:  1000,
			KeyPrefix: "fusion:rl:",
		},
	}
}

// Load decodes the TOML file at path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer func() {
		_ = f.Close()
	}()

	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML text over Default without validating it.
func Parse(text string) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal([]byte(text), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays the FUSION_* variables on the loaded configuration.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Redis.Addr = v
	}
	if v, ok := lookup(EnvAmqpURL); ok && v != "" {
		c.AMQP.URL = v
	}
	if v, ok := lookup(EnvPostgresPassword); ok {
		c.Postgres.Password = v
	}
	if v, ok := lookup(EnvS3AccessKey); ok {
		c.S3.AccessKey = v
	}
	if v, ok := lookup(EnvS3SecretKey); ok {
		c.S3.SecretKey = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

// Validate checks the engine parameters and the cross-section requirements.
func (c Config) Validate() error {
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}
	if c.Aligner.MaxLag < 0 {
		return fmt.Errorf("%w: aligner max lag must be >= 0, got %d", ErrInvalidConfig, c.Aligner.MaxLag)
	}
	if c.Aligner.BatchTimeoutMs < 0 {
		return fmt.Errorf("%w: aligner batch timeout must be >= 0, got %d", ErrInvalidConfig, c.Aligner.BatchTimeoutMs)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos must be 0, 1 or 2, got %d", ErrInvalidConfig, c.MQTT.QoS)
	}
	if c.ZeroMQ.Enabled && (c.ZeroMQ.Port < 0 || c.ZeroMQ.Port > 65535) {
		return fmt.Errorf("%w: zeromq port out of range: %d", ErrInvalidConfig, c.ZeroMQ.Port)
	}
	for _, proxy := range c.HTTP.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("%w: trusted proxy %q is neither an IP nor a CIDR", ErrInvalidConfig, proxy)
			}
		}
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		return fmt.Errorf("%w: auth is enabled but no token is set", ErrInvalidConfig)
	}
	if c.RateLimit.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("%w: rate limiting requires the redis section", ErrInvalidConfig)
	}
	if c.RateLimit.Enabled && c.RateLimit.Limit <= 0 {
		return fmt.Errorf("%w: rate limit must be > 0, got %d", ErrInvalidConfig, c.RateLimit.Limit)
	}
	if c.S3.Enabled && (c.S3.Endpoint == "" || c.S3.Bucket == "") {
		return fmt.Errorf("%w: s3 endpoint and bucket are required", ErrInvalidConfig)
	}
	return nil
}

// EngineConfig returns the engine parameters.
func (c Config) EngineConfig() engine.Config {
	sensors := make([]engine.SensorID, len(c.Fusion.Sensors))
	for i, id := range c.Fusion.Sensors {
		sensors[i] = engine.SensorID(id)
	}
	return engine.Config{
		Sensors:           sensors,
		Tolerance:         c.Fusion.Tolerance,
		FaultThreshold:    c.Fusion.FaultThreshold,
		RecoveryThreshold: c.Fusion.RecoveryThreshold,
		MaxFaulty:         c.Fusion.MaxFaulty,
		WindowSize:        c.Fusion.WindowSize,
		MaxSafeSlope:      c.Fusion.MaxSafeSlope,
	}
}

// PipelineConfig returns the pipeline and aligner parameters.
func (c Config) PipelineConfig() engine.PipelineConfig {
	return engine.PipelineConfig{
		Aligner: engine.AlignerConfig{
			MaxLag:       c.Aligner.MaxLag,
			BatchTimeout: millis(c.Aligner.BatchTimeoutMs),
		},
		QueueSize:    c.Pipeline.QueueSize,
		ResultBuffer: c.Pipeline.ResultBuffer,
		SnapshotSize: c.Pipeline.SnapshotSize,
	}
}

// IngestConfig returns the transport settings.
func (c Config) IngestConfig() network.IngestConfig {
	return network.IngestConfig{
		EnableZmq: c.ZeroMQ.Enabled,
		Zmq: network.ZmqConfig{
			NodeID:          c.ZeroMQ.NodeID,
			Host:            c.ZeroMQ.Host,
			Port:            c.ZeroMQ.Port,
			ReplayTolerance: millis(c.ZeroMQ.ReplayToleranceMs),
		},
		EnableMqtt: c.MQTT.Enabled,
		Mqtt: network.MqttConfig{
			Broker:          c.MQTT.Broker,
			ClientID:        c.MQTT.ClientID,
			Topic:           c.MQTT.Topic,
			QoS:             byte(c.MQTT.QoS),
			KeepAlive:       uint16(c.MQTT.KeepAlive),
			ConnectTimeout:  millis(c.MQTT.ConnectTimeoutMs),
			ReplayTolerance: millis(c.MQTT.ReplayToleranceMs),
		},
	}
}

// HTTPConfig returns the REST API settings.
func (c Config) HTTPConfig() api.HTTPConfig {
	return api.HTTPConfig{
		Address:        c.HTTP.Address,
		DefaultLimit:   c.HTTP.DefaultLimit,
		TrustedProxies: c.HTTP.TrustedProxies,
	}
}

// ArrowConfig returns the Arrow session server settings.
func (c Config) ArrowConfig() api.ArrowConfig {
	return api.ArrowConfig{
		Address:     c.Arrow.Address,
		Engine:      c.EngineConfig(),
		IdleTimeout: millis(c.Arrow.IdleTimeoutMs),
	}
}

// AuthConfig returns the token settings.
func (c Config) AuthConfig() api.AuthConfig {
	return api.AuthConfig{
		Enabled: c.Auth.Enabled,
		Token:   c.Auth.Token,
	}
}

// RedisConfig returns the redis sink settings.
func (c Config) RedisConfig() sink.RedisConfig {
	return sink.RedisConfig{
		Addr:        c.Redis.Addr,
		DB:          c.Redis.DB,
		KeyPrefix:   c.Redis.KeyPrefix,
		Channel:     c.Redis.Channel,
		HistorySize: c.Redis.HistorySize,
		TTL:         time.Duration(c.Redis.TTLSeconds) * time.Second,
	}
}

// AmqpConfig returns the exchange settings.
func (c Config) AmqpConfig() sink.AmqpConfig {
	return sink.AmqpConfig{
		URL:           c.AMQP.URL,
		Exchange:      c.AMQP.Exchange,
		RoutingPrefix: c.AMQP.RoutingPrefix,
	}
}

// PostgresConfig returns the result store settings.
func (c Config) PostgresConfig() sink.PostgresConfig {
	return sink.PostgresConfig{
		Host:     c.Postgres.Host,
		Port:     c.Postgres.Port,
		User:     c.Postgres.User,
		Password: c.Postgres.Password,
		DBName:   c.Postgres.DBName,
		SslMode:  c.Postgres.SslMode,
	}
}

// S3Config returns the archive settings.
func (c Config) S3Config() sink.S3Config {
	return sink.S3Config{
		Endpoint:  c.S3.Endpoint,
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
		Bucket:    c.S3.Bucket,
		Region:    c.S3.Region,
		UseSSL:    c.S3.UseSSL,
	}
}

// SinkWriteTimeout bounds each sink write.
func (c Config) SinkWriteTimeout() time.Duration {
	return millis(c.Sink.WriteTimeoutMs)
}

// RateLimitWindow is the fixed window length.
func (c Config) RateLimitWindow() time.Duration {
	return millis(c.RateLimit.WindowMs)
}

// String renders the configuration as TOML with secrets masked.
func (c Config) String() string {
	masked := c
	masked.Auth.Token = mask(c.Auth.Token)
	masked.Postgres.Password = mask(c.Postgres.Password)
	masked.S3.SecretKey = mask(c.S3.SecretKey)

	b, err := toml.Marshal(masked)
	if err != nil {
		return "config: " + strconv.Quote(err.Error())
	}
	return string(b)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

package config

import (
	"github.com/spf13/viper"
)

// Keys understood by Load. Each key is bound to the environment variable
// listed in EnvBindings and may also be bound to a CLI flag.
const (
	KeyURL                    = "rmq.url"
	KeyHost                   = "rmq.host"
	KeyPort                   = "rmq.port"
	KeyUsername               = "rmq.username"
	KeyPassword               = "rmq.password"
	KeyVHost                  = "rmq.vhost"
	KeyExchange               = "rmq.exchange"
	KeyConcurrency            = "rmq.concurrency"
	KeyPrefetch               = "rmq.prefetch"
	KeyHeartbeat              = "rmq.heartbeat"
	KeyConnectionName         = "connection_name"
	KeySupervisorInterval     = "supervisor.interval"
	KeyConnectMaxAttempts     = "connect.max_attempts"
	KeyConnectInitialInterval = "connect.initial_interval"
	KeyConnectMaxInterval     = "connect.max_interval"
	KeyConnectJitter          = "connect.jitter"
	KeyReconnectDelay         = "reconnect.delay"
	KeyReconnectJitter        = "reconnect.jitter"
	KeyPublishTimeout         = "publish.timeout"
	KeyMetricsEnabled         = "metrics.enabled"
	KeyMetricsPort            = "metrics.port"
)

// EnvBindings maps configuration keys to environment variables.
var EnvBindings = map[string]string{
	KeyURL:                    "RMQ_URL",
	KeyHost:                   "RMQ_HOST",
	KeyPort:                   "RMQ_PORT",
	KeyUsername:               "RMQ_USERNAME",
	KeyPassword:               "RMQ_PASSWORD",
	KeyVHost:                  "RMQ_VHOST",
	KeyExchange:               "RMQ_EXCHANGE",
	KeyConcurrency:            "RMQ_CONCURRENCY",
	KeyPrefetch:               "RMQ_PREFETCH",
	KeyHeartbeat:              "RMQ_HEARTBEAT",
	KeyConnectionName:         "HOSTNAME",
	KeySupervisorInterval:     "NARRATOR_SUPERVISOR_INTERVAL",
	KeyConnectMaxAttempts:     "NARRATOR_CONNECT_MAX_ATTEMPTS",
	KeyConnectInitialInterval: "NARRATOR_CONNECT_INITIAL_INTERVAL",
	KeyConnectMaxInterval:     "NARRATOR_CONNECT_MAX_INTERVAL",
	KeyConnectJitter:          "NARRATOR_CONNECT_JITTER",
	KeyReconnectDelay:         "NARRATOR_RECONNECT_DELAY",
	KeyReconnectJitter:        "NARRATOR_RECONNECT_JITTER",
	KeyPublishTimeout:         "NARRATOR_PUBLISH_TIMEOUT",
	KeyMetricsEnabled:         "NARRATOR_METRICS_ENABLED",
	KeyMetricsPort:            "NARRATOR_METRICS_PORT",
}

// BindEnv registers EnvBindings and the defaults on v.
func BindEnv(v *viper.Viper) error {
	for key, env := range EnvBindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyExchange, DefaultExchange)
	v.SetDefault(KeyConcurrency, DefaultConcurrency)
	v.SetDefault(KeyPrefetch, DefaultPrefetch)
	v.SetDefault(KeyHeartbeat, DefaultHeartbeat)
	v.SetDefault(KeySupervisorInterval, DefaultSupervisorInterval)
	v.SetDefault(KeyConnectMaxAttempts, DefaultConnectMaxAttempts)
	v.SetDefault(KeyConnectInitialInterval, DefaultConnectInitialInterval)
	v.SetDefault(KeyConnectMaxInterval, DefaultConnectMaxInterval)
	v.SetDefault(KeyConnectJitter, DefaultConnectJitter)
	v.SetDefault(KeyReconnectDelay, DefaultReconnectDelay)
	v.SetDefault(KeyReconnectJitter, DefaultReconnectJitter)
	v.SetDefault(KeyPublishTimeout, DefaultPublishTimeout)
	v.SetDefault(KeyMetricsPort, DefaultMetricsPort)
	return nil
}

// Load reads a Config from v after binding the environment, then validates
// it. A nil v uses a fresh viper instance.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	if err := BindEnv(v); err != nil {
		return nil, err
	}

	conf := Config{
		RabbitMQURL:            v.GetString(KeyURL),
		RabbitMQHost:           v.GetString(KeyHost),
		RabbitMQPort:           v.GetInt(KeyPort),
		RabbitMQUsername:       v.GetString(KeyUsername),
		RabbitMQPassword:       v.GetString(KeyPassword),
		RabbitMQVHost:          v.GetString(KeyVHost),
		Exchange:               v.GetString(KeyExchange),
		ConnectionName:         v.GetString(KeyConnectionName),
		Heartbeat:              v.GetDuration(KeyHeartbeat),
		Concurrency:            v.GetInt(KeyConcurrency),
		Prefetch:               v.GetInt(KeyPrefetch),
		SupervisorInterval:     v.GetDuration(KeySupervisorInterval),
		ConnectMaxAttempts:     v.GetInt(KeyConnectMaxAttempts),
		ConnectInitialInterval: v.GetDuration(KeyConnectInitialInterval),
		ConnectMaxInterval:     v.GetDuration(KeyConnectMaxInterval),
		ConnectJitter:          v.GetDuration(KeyConnectJitter),
		ReconnectDelay:         v.GetDuration(KeyReconnectDelay),
		ReconnectJitter:        v.GetDuration(KeyReconnectJitter),
		PublishTimeout:         v.GetDuration(KeyPublishTimeout),
		MetricsEnabled:         v.GetBool(KeyMetricsEnabled),
		MetricsPort:            v.GetInt(KeyMetricsPort),
	}
	conf = conf.WithDefaults()

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

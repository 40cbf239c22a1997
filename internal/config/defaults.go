package config

const (
	defaultConfigPath               = "~/.config/storyloom/config.toml"
	defaultDataDir                  = "~/.local/share/storyloom"
	defaultLogDir                   = "~/.local/share/storyloom/logs"
	defaultAPIBind                  = "127.0.0.1:7610"
	defaultPollIntervalMillis       = 2000
	defaultMaxConcurrent            = 3
	defaultStaleMinutes             = 30
	defaultStaleSweepSeconds        = 300
	defaultRateLimitCooldownMS      = 5000
	defaultErrorRetrySeconds        = 10
	defaultEngineIntervalSeconds    = 300
	defaultSettingsCacheTTLSeconds  = 60
	defaultStrandedGraceMinutes     = 10
	defaultTopicGeneratorTimeoutSec = 300
	defaultDuplicateTitleThreshold  = 0.85
	defaultHandlerTimeoutSeconds    = 1800
	defaultRedisChannel             = "storyloom:jobs"
	defaultPresignMinutes           = 60
	defaultNotifyRequestTimeout     = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultLogRetentionDays         = 14
)

// defaultRateLimitedTypes lists job types that call cost-bearing, rate-limited APIs.
var defaultRateLimitedTypes = []string{"generate_visual_asset", "generate_narration"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Workflow: Workflow{
			PollIntervalMillis:  defaultPollIntervalMillis,
			MaxConcurrent:       defaultMaxConcurrent,
			StaleMinutes:        defaultStaleMinutes,
			StaleSweepSeconds:   defaultStaleSweepSeconds,
			RateLimitedTypes:    append([]string(nil), defaultRateLimitedTypes...),
			RateLimitCooldownMS: defaultRateLimitCooldownMS,
			ErrorRetrySeconds:   defaultErrorRetrySeconds,
		},
		Engine: Engine{
			Enabled:                  true,
			IntervalSeconds:          defaultEngineIntervalSeconds,
			SettingsCacheTTLSeconds:  defaultSettingsCacheTTLSeconds,
			StrandedGraceMinutes:     defaultStrandedGraceMinutes,
			TopicGeneratorTimeoutSec: defaultTopicGeneratorTimeoutSec,
			DuplicateTitleThreshold:  defaultDuplicateTitleThreshold,
		},
		Handlers: map[string]Handler{},
		Redis: Redis{
			Channel: defaultRedisChannel,
		},
		Storage: Storage{
			PresignMinute: defaultPresignMinutes,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			TopicFailures:  true,
			Publications:   true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			WebhookPath:        "/webhook/whatsapp",
			MaxBodyBytes:       1 << 20,
			ReadTimeoutSeconds: 30,
		},
		Relay: RelayConfig{
			Endpoint:       "https://mywhinlite.p.rapidapi.com/sendmsg",
			APIHost:        "mywhinlite.p.rapidapi.com",
			CitationMarker: "【6:0†source】",
			TimeoutSeconds: 30,
		},
		Assistant: AssistantConfig{
			APIBase:            "https://api.openai.com/v1",
			PunctuationKey:     "__punctuation__",
			PollIntervalMs:     500,
			RunTimeoutSeconds:  120,
			RateLimitPerMinute: 60,
			RateLimitBurst:     5,
		},
		Transcription: TranscriptionConfig{
			APIBase:        "https://api.openai.com/v1",
			Model:          "whisper-1",
			Task:           "transcribe",
			TimeoutSeconds: 120,
		},
		Media: MediaConfig{
			TempDir:             "~/.relaybot/tmp",
			MaxBytes:            64 << 20,
			FetchTimeoutSeconds: 60,
			VerifyMAC:           true,
		},
		Memory: MemoryConfig{
			Backend:       "sqlite",
			DBPath:        "~/.relaybot/threads.db",
			RetentionDays: 365,
			PruneSchedule: "@daily",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

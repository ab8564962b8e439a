package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// Exchanges: copy the map so the original keeps its credentials.
	out.Exchanges = make(map[string]ExchangeConfig, len(cfg.Exchanges))
	for id, ex := range cfg.Exchanges {
		redact(&ex.APIKey)
		redact(&ex.APISecret)
		redact(&ex.Passphrase)
		if ex.Markets != nil {
			ex.Markets = append([]string(nil), ex.Markets...)
		}
		out.Exchanges[id] = ex
	}

	// Supabase
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Engine.Include != nil {
		out.Engine.Include = append([]string(nil), cfg.Engine.Include...)
	}
	if cfg.Engine.Exclude != nil {
		out.Engine.Exclude = append([]string(nil), cfg.Engine.Exclude...)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

package config

import "go.uber.org/zap"

// ProductionWarnings lists insecure or degraded settings for a production
// deployment. It is empty outside production.
func (c *Config) ProductionWarnings() []string {
	if !c.IsProduction() {
		return nil
	}

	var warnings []string
	if len(c.JWTSecret) < 32 {
		warnings = append(warnings, "jwt_secret is shorter than 32 bytes")
	}
	if c.RedisURL == "" {
		warnings = append(warnings, "redis_url is empty: baselines and rules are kept in process memory")
	}
	if c.DatabaseURL == "" {
		warnings = append(warnings, "database_url is empty: login attempts are not persisted")
	}
	if !c.EnableRateLimit {
		warnings = append(warnings, "rate limiting is disabled on the evaluation routes")
	}
	return warnings
}

// LogSecurityWarnings logs actionable security warnings when running in
// production with insecure defaults. Call this at service startup after
// configuration is loaded.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	warnings := c.ProductionWarnings()

	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}

	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}

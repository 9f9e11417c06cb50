package config

import (
	"os"
	"strconv"
)

// applyEnvOverrides maps the well-known environment variables onto the
// config struct. Explicit names win over the viper URDIMBRE_ prefix because
// operators set these in container manifests.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		cfg.Qdrant.Host = v
	}
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Qdrant.Port = p
		}
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.Qdrant.APIKey = v
	}
	if v := os.Getenv("NEO4J_URI"); v != "" {
		cfg.Neo4j.URI = v
	}
	if v := os.Getenv("NEO4J_USER"); v != "" {
		cfg.Neo4j.User = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		cfg.Neo4j.Password = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("ARTIFACTS_ENDPOINT"); v != "" {
		cfg.Artifacts.Endpoint = v
	}
	if v := os.Getenv("ARTIFACTS_ACCESS_KEY"); v != "" {
		cfg.Artifacts.AccessKey = v
	}
	if v := os.Getenv("ARTIFACTS_SECRET_KEY"); v != "" {
		cfg.Artifacts.SecretKey = v
	}
	if v := os.Getenv("ARTIFACTS_BUCKET"); v != "" {
		cfg.Artifacts.Bucket = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.GeminiKey = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}

	// Feature flags keep their historical spellings.
	cfg.Flags.AllowOrglessTasks = cfg.Flags.AllowOrglessTasks || envBool("ALLOW_ORGLESS_TASKS")
	cfg.Flags.ArtifactsAllowLocalFallback = cfg.Flags.ArtifactsAllowLocalFallback || envBool("ARTIFACTS_ALLOW_LOCAL_FALLBACK")
	cfg.Flags.ForceMockBlobs = cfg.Flags.ForceMockBlobs || envBool("FORCE_MOCK_BLOBS")

	if os.Getenv("URDIMBRE_MODE") != "" {
		cfg.Mode = os.Getenv("URDIMBRE_MODE")
	}
}

func envBool(name string) bool {
	v := os.Getenv(name)
	return v == "true" || v == "1" || v == "yes"
}

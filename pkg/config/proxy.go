package config

// ProxyConfig holds runtime configuration for the reverse proxy.
type ProxyConfig struct {
	Environment string
	Addr        string
	MetricsAddr string
	DatabaseURL string

	// StorageBaseURL is the public object storage endpoint up to and
	// including the artifact namespace, e.g.
	// http://storage:9000/shipyard-outputs/__outputs.
	StorageBaseURL string
}

// LoadProxyConfig constructs a ProxyConfig from environment variables.
func LoadProxyConfig() ProxyConfig {
	return ProxyConfig{
		Environment:    GetString("APP_ENV", "development"),
		Addr:           GetString("PROXY_ADDR", ":8000"),
		MetricsAddr:    GetString("PROXY_METRICS_ADDR", ":9091"),
		DatabaseURL:    GetString("DATABASE_URL", "postgres://shipyard:shipyard@db:5432/shipyard?sslmode=disable"),
		StorageBaseURL: GetString("STORAGE_BASE_URL", "http://storage:9000/shipyard-outputs/__outputs"),
	}
}

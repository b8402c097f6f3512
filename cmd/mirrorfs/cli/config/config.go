package config

// Config represents the mirrorfs CLI configuration.
// Use mapstructure tags for Viper unmarshaling.
type Config struct {
	Cache     CacheConfig     `mapstructure:"cache"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// CacheConfig holds cache-related settings.
type CacheConfig struct {
	Dir      string `mapstructure:"dir"`
	ZeroFill bool   `mapstructure:"zero-fill"`
}

// ProfilingConfig holds continuous-profiling settings.
type ProfilingConfig struct {
	// PprofAddr, when set, serves pprof and fgprof handlers over HTTP.
	PprofAddr string `mapstructure:"pprof-addr"`
	// PyroscopeServer, when set, pushes profiles to a Pyroscope server.
	PyroscopeServer string `mapstructure:"pyroscope-server"`
}

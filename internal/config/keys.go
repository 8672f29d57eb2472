package config

const (
	KeyInput            = "input"
	KeyOutput           = "output"
	KeyCacheDir         = "cache_dir"
	KeyGitHubToken      = "github_token"
	KeyLogLevel         = "log_level"
	KeyBotsFile         = "bots_file"
	KeyDefaultRepoURL   = "default_repo_url"
	KeyLimit            = "limit"
	KeyForce            = "force"
	KeyCoreIntervalMS   = "core_interval_ms"
	KeySearchIntervalMS = "search_interval_ms"
	KeyRegistryInterval = "registry_interval_ms"
	KeyRefreshCache     = "refresh_cache"
	KeyReportTop        = "report_top"
)

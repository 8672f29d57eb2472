package config

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func Init(root *cobra.Command) {
	viper.AutomaticEnv()
	_ = godotenv.Load()
	if root != nil {
		_ = viper.BindPFlags(root.PersistentFlags())
	}
	setDefaults()
}

func setDefaults() {
	viper.SetDefault(KeyOutput, "outputs/pr_repair_hop1/pr_mapping.csv")
	viper.SetDefault(KeyCacheDir, "cache/repair_search")
	viper.SetDefault(KeyLogLevel, "info")
	viper.SetDefault(KeyLimit, 0)
	viper.SetDefault(KeyForce, false)
	viper.SetDefault(KeyRefreshCache, false)
	// Core reads stay under ~5000/hr, search under ~30/min, plus a polite
	// 1 req/s toward crates.io.
	viper.SetDefault(KeyCoreIntervalMS, 800)
	viper.SetDefault(KeySearchIntervalMS, 2100)
	viper.SetDefault(KeyRegistryInterval, 1000)
	viper.SetDefault(KeyReportTop, 30)
}

func Input() string              { return viper.GetString(KeyInput) }
func Output() string             { return viper.GetString(KeyOutput) }
func CacheDir() string           { return viper.GetString(KeyCacheDir) }
func GitHubToken() string        { return viper.GetString(KeyGitHubToken) }
func LogLevel() string           { return viper.GetString(KeyLogLevel) }
func BotsFile() string           { return viper.GetString(KeyBotsFile) }
func DefaultRepoURL() string     { return viper.GetString(KeyDefaultRepoURL) }
func Limit() int                 { return viper.GetInt(KeyLimit) }
func Force() bool                { return viper.GetBool(KeyForce) }
func RefreshCache() bool         { return viper.GetBool(KeyRefreshCache) }
func CoreIntervalMS() int        { return viper.GetInt(KeyCoreIntervalMS) }
func SearchIntervalMS() int      { return viper.GetInt(KeySearchIntervalMS) }
func RegistryIntervalMS() int    { return viper.GetInt(KeyRegistryInterval) }
func ReportTop() int             { return viper.GetInt(KeyReportTop) }

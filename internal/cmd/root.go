package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nmdm/nmdm/internal/appid"
	"github.com/nmdm/nmdm/internal/config"
	"github.com/nmdm/nmdm/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   appid.Get().BinaryName,
	Short: appid.Get().Description,
	Long: fmt.Sprintf(`%s - %s

Each pair links two ports, nmdm<N>A and nmdm<N>B. Bytes written to one side
are delivered to the other, optionally paced at an emulated line rate, and
raising DTR on one side shows up as carrier detect on the other.`, appid.Get().BinaryName, appid.Get().Description),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading from emitting metrics until serve installs its own
	// telemetry system.
	observability.DisableGlobalTelemetry()

	cobra.OnInitialize(initConfig)

	identity := appid.Get()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

// initConfig points the loader at --config and starts the CLI logger.
func initConfig() {
	observability.InitCLILogger(appid.Get().BinaryName, verbose)
	config.SetConfigFile(cfgFile)
}

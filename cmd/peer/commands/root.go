package commands

import (
	"strings"

	"github.com/abhinavnt/codefolio-sub001/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

// RootCmd is the root command of the headless mesh participant.
var RootCmd = &cobra.Command{
	Use:   "peer",
	Short: "Headless participant for mesh video rooms",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	SilenceUsage: true,
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.String("config", "", "peer config file (yaml)")
	pf.String("signal-url", "", "signaling websocket URL")
	pf.String("broker-url", "", "broker websocket URL")
	pf.String("realm", "", "broker realm")
	pf.Duration("response-timeout", 0, "broker offer timeout")
	pf.String("log-level", "", "log level")

	_ = v.BindPFlag("signal_url", pf.Lookup("signal-url"))
	_ = v.BindPFlag("broker_url", pf.Lookup("broker-url"))
	_ = v.BindPFlag("realm", pf.Lookup("realm"))
	_ = v.BindPFlag("response_timeout", pf.Lookup("response-timeout"))
	_ = v.BindPFlag("log_level", pf.Lookup("log-level"))

	RootCmd.AddCommand(joinCmd)
}

func loadConfig(cmd *cobra.Command) error {
	config.SetPeerDefaults(v)
	v.SetEnvPrefix(config.EnvPrefix + "_PEER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}

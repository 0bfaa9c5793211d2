package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"samplerelay/internal/dummy"
)

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run a demo target that answers with AzRef-* headers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return dummy.Serve(cmd.Context(), dummy.ServerConfig{
			Port:    viper.GetInt("port"),
			PodName: viper.GetString("pod-name"),
			NodeIP:  viper.GetString("node-ip"),
		}, log.WithField("component", "dummy"))
	},
}

func init() {
	dummyCmd.Flags().IntP("port", "p", 8080, "port to run the dummy server on")
	dummyCmd.Flags().String("pod-name", "", "AzRef-PodName header value")
	dummyCmd.Flags().String("node-ip", "", "AzRef-NodeIp header value")
}

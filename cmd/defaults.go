package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"samplerelay/internal/listener"
)

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the listener parameters and their defaults",
	Long: `Prints the parameters a host should offer, in order. The YAML form can be
used as a starting point for --params.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := listener.DefaultParameters()
		out := cmd.OutOrStdout()

		switch format := viper.GetString("format"); format {
		case "text":
			for _, p := range params {
				fmt.Fprintf(out, "%s=%s\n", p.Name, p.Value)
			}
		case "yaml":
			data, err := encodeParamsYAML(params)
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		default:
			return errors.Errorf("--format: unknown format %q (want text or yaml)", format)
		}
		return nil
	},
}

func init() {
	defaultsCmd.Flags().String("format", "text", "output format: text or yaml")
}

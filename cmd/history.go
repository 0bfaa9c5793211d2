package cmd

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"samplerelay/internal/storage"
	histview "samplerelay/internal/tui/history"
)

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Browse past replays and runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString("history-dir")
		if dir == "" {
			var err error
			if dir, err = storage.DefaultDir(); err != nil {
				return err
			}
		}
		h, err := storage.OpenHistory(dir)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			item, ok := h.Get(args[0])
			if !ok {
				return errors.Errorf("no run with id %s", args[0])
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(item)
		}

		items := h.List()
		if viper.GetBool("plain") {
			for _, row := range histview.Rows(items) {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(row, "\t"))
			}
			return nil
		}
		return histview.Run(items)
	},
}

func init() {
	historyCmd.Flags().Bool("plain", false, "print rows instead of the interactive table")
}

package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use: "config",

		Short: "Print the effective configuration as YAML",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			_, v, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			settings := v.AllSettings()
			if r, ok := settings["redis"].(map[string]any); ok && r["password"] != "" {
				r["password"] = "<redacted>"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	addConfigFlags(cmd.Flags())
	return cmd
}

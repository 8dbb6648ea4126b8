package main

import (
	"fmt"

	"github.com/casualjim/desktopagent/pkg/stdx"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the wire envelope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), string(stdx.Must1(json.MarshalIndent(protocol.Schema(), "", "  "))))
			return err
		},
	}
}

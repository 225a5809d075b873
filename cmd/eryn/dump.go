package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <template> <out.osh>",
		Short: "Compile a template and write its bytecode verbatim to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := newEngine()
			if _, err := e.CompileFile(args[0]); err != nil {
				return err
			}
			origin, err := e.AbsPath(args[0])
			if err != nil {
				return err
			}
			if err := e.Dump(origin, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dumped %s -> %s\n", args[0], args[1])
			return nil
		},
	}
}

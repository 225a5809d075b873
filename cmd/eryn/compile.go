package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <template>",
		Short: "Compile a template to OSH bytecode and report success",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := newEngine()
			bytecode, err := e.CompileFile(args[0])
			if err != nil {
				return err
			}
			origin, err := e.AbsPath(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compiled %s (%s, %d bytes)\n", args[0], origin, len(bytecode))
			return nil
		},
	}
}

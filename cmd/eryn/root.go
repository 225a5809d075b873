// Command eryn is a thin multi-command wrapper around pkg/engine: compile
// templates to OSH bytecode, render them against a JSON context, or compile
// one and dump its bytecode to disk. The engine and the renderer are the
// supported embeddable surface; this binary exists to exercise them, the
// way cmd/nux and cmd/luxc exercised the teacher's VM and compiler.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rmay/eryn/internal/testeval"
	"github.com/rmay/eryn/pkg/engine"
)

var (
	workingDir string
	traceFlag  bool
	log        = logrus.StandardLogger()
)

func newEngine() *engine.Engine {
	opts := engine.NewOptions()
	opts.WorkingDir = workingDir
	return engine.New(opts, testeval.Evaluator{}, log)
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "eryn",
		Short:         "Compile and render eryn templates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if traceFlag {
				log.SetLevel(logrus.TraceLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&workingDir, "working-dir", ".", "base directory component paths resolve against")
	root.PersistentFlags().BoolVar(&traceFlag, "trace", false, "enable trace-level logging")

	root.AddCommand(compileCmd(), renderCmd(), dumpCmd())
	return root
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.WithError(err).Error("eryn")
		os.Exit(1)
	}
}

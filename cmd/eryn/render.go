package main

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rmay/eryn/internal/testeval"
	"github.com/rmay/eryn/pkg/bridge"
)

var renderJSON = jsoniter.ConfigCompatibleWithStandardLibrary

func loadContext(path string) (map[string]interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read context %s", path)
	}
	var ctx map[string]interface{}
	if err := renderJSON.Unmarshal(data, &ctx); err != nil {
		return nil, errors.Wrapf(err, "parse context %s", path)
	}
	return ctx, nil
}

func renderCmd() *cobra.Command {
	var contextPath string
	cmd := &cobra.Command{
		Use:   "render <template>",
		Short: "Compile and render a template against a JSON context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext(contextPath)
			if err != nil {
				return err
			}
			e := newEngine()
			if _, err := e.CompileFile(args[0]); err != nil {
				return err
			}
			scope := bridge.Scope{
				Context: testeval.New(ctx),
				Local:   testeval.New(map[string]interface{}{}),
				Shared:  testeval.New(map[string]interface{}{}),
			}
			out, err := e.RenderFile(args[0], scope)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&contextPath, "context", "c", "", "path to a JSON file providing the render context")
	return cmd
}

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
	"github.com/lastmile-ai/aiconfig-sub000/internal/runtime"
)

var (
	runParams []string
	runStream bool
	runDeps   bool
	runSave   bool
	runAPIKey string
)

var runCmd = &cobra.Command{
	Use:   "run CONFIG PROMPT",
	Short: "Run a prompt from a configuration file",
	Args:  cobra.ExactArgs(2),
	RunE:  runPrompt,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringArrayVar(&runParams, "param", nil, "Parameter as key=value (repeatable)")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "Stream output as it arrives")
	runCmd.Flags().BoolVar(&runDeps, "deps", false, "Run upstream dependencies first")
	runCmd.Flags().BoolVar(&runSave, "save", false, "Save outputs back to the configuration file")
	runCmd.Flags().StringVar(&runAPIKey, "api-key", "", "Provider API key override")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	path, promptName := args[0], args[1]

	rt, err := runtime.LoadFile(path, model.Default())
	if err != nil {
		return err
	}

	params := map[string]any{}
	for _, kv := range runParams {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			return fmt.Errorf("invalid --param %q: expected key=value", kv)
		}
		params[key] = value
	}

	opts := &model.InferenceOptions{APIToken: runAPIKey}
	if runStream {
		opts.Stream = true
		opts.Callback = func(delta any, accumulated any, index int) {
			if s, ok := delta.(string); ok {
				fmt.Print(s)
			}
		}
	}

	outputs, err := rt.Run(context.Background(), promptName, params, opts, runDeps)
	if err != nil {
		return err
	}
	if runStream {
		fmt.Println()
	} else {
		prompt, _ := rt.Config.Prompt(promptName)
		parser, err := model.Default().ForPrompt(prompt, rt.Config)
		if err != nil {
			return err
		}
		for _, out := range outputs {
			text, err := parser.OutputText(prompt, rt.Config, out)
			if err != nil {
				return err
			}
			fmt.Println(text)
		}
	}

	if runSave {
		if err := rt.Save("", true); err != nil {
			return fmt.Errorf("save outputs: %w", err)
		}
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"reddel/internal/diff"
	"reddel/internal/pipeline"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	callFile   string
	callStart  string
	callEnd    string
	callDiff   bool
	callKwargs []string
)

var callCmd = &cobra.Command{
	Use:   "call <operation> [args...]",
	Short: "Run one operation locally and print its result",
	Long: `Runs an operation without a server.

With --file the file's text (or stdin for "-") is passed as the source
argument. Remaining arguments are parsed as JSON when possible, otherwise
passed as strings.

Examples:
  reddel call add_arg --file foo.py --start 3:1 --end 3:2 1 arg2
  reddel call rename_arg --file foo.py --kw oldname=a --kw newname=b --diff
  reddel call get_parents --file foo.py '[2, 12]'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func addCallFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&callFile, "file", "f", "", `Python file passed as the source argument ("-" for stdin)`)
	cmd.Flags().StringVar(&callStart, "start", "", "Region start as LINE:COLUMN")
	cmd.Flags().StringVar(&callEnd, "end", "", "Region end as LINE:COLUMN (exclusive)")
	cmd.Flags().BoolVar(&callDiff, "diff", false, "Print a unified diff instead of the new source")
	cmd.Flags().StringArrayVar(&callKwargs, "kw", nil, "Keyword argument as NAME=VALUE (repeatable)")
}

func runCall(cmd *cobra.Command, args []string) error {
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	var (
		callArgs []interface{}
		original string
	)
	if callFile != "" {
		original, err = readSource(cmd.InOrStdin(), callFile)
		if err != nil {
			return err
		}
		callArgs = append(callArgs, original)
	}
	for _, a := range args[1:] {
		callArgs = append(callArgs, parseValue(a))
	}

	kwargs := make(map[string]interface{}, len(callKwargs)+2)
	for _, kv := range callKwargs {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid --kw %q, expected NAME=VALUE", kv)
		}
		kwargs[name] = parseValue(value)
	}
	if callStart != "" {
		kwargs[pipeline.StartKey] = callStart
	}
	if callEnd != "" {
		kwargs[pipeline.EndKey] = callEnd
	}

	logger.Debug("calling operation", zap.String("op", args[0]), zap.Int("args", len(callArgs)), zap.Int("kwargs", len(kwargs)))
	result, err := reg.Call(args[0], callArgs, kwargs)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), result, original)
}

func readSource(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read source: %w", err)
	}
	return string(data), nil
}

// parseValue decodes s as JSON, falling back to the string itself.
func parseValue(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func printResult(w io.Writer, result interface{}, original string) error {
	if text, ok := result.(string); ok {
		if callDiff && original != "" {
			name := "source.py"
			if callFile != "" && callFile != "-" {
				name = filepath.Base(callFile)
			}
			_, err := io.WriteString(w, diff.Compute(name, original, text).Unified())
			return err
		}
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		_, err := io.WriteString(w, text)
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

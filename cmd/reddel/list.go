package main

import (
	"fmt"

	"reddel/internal/provider"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	listFile    string
	listNoColor bool
)

var (
	opNameColor   = color.New(color.FgGreen, color.Bold)
	providerColor = color.New(color.FgCyan)
	shadowedColor = color.New(color.Faint)
	flagColor     = color.New(color.FgYellow)
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available operations",
	Long: `Lists every operation of every provider in registration order.
Shadowed operations are listed too and marked. With --file only the
operations that accept that source are shown.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&listFile, "file", "f", "", `Only list operations accepting this Python file ("-" for stdin)`)
	cmd.Flags().BoolVar(&listNoColor, "no-color", false, "Disable colored output")
}

func runList(cmd *cobra.Command, args []string) error {
	if listNoColor {
		color.NoColor = true
	}
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	ops := reg.Operations()
	if listFile != "" {
		text, err := readSource(cmd.InOrStdin(), listFile)
		if err != nil {
			return err
		}
		ops = reg.Applicable(text, nil)
	}

	w := cmd.OutOrStdout()
	for _, op := range ops {
		line := opNameColor.Sprint(op.Signature)
		if op.Shadowed {
			line = shadowedColor.Sprint(op.Signature)
		}
		fmt.Fprintf(w, "%s  %s%s\n", line, providerColor.Sprint("["+op.Provider+"]"), opFlags(op))
	}
	return nil
}

func opFlags(op provider.OperationInfo) string {
	s := ""
	if op.EmitsSource {
		s += " " + flagColor.Sprint("edits")
	}
	if op.Shadowed {
		s += " " + shadowedColor.Sprint("shadowed")
	}
	return s
}

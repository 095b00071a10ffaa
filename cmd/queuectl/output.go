package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// writeOutput renders v as JSON or YAML when requested, otherwise calls
// renderText.
func writeOutput(cmd *cobra.Command, ctx *commandContext, v any, renderText func(io.Writer) error) error {
	format, err := ctx.outputFormat()
	if err != nil {
		return err
	}
	switch format {
	case outputJSON:
		return writeJSON(cmd, v)
	case outputYAML:
		return writeYAML(cmd, v)
	default:
		return renderText(cmd.OutOrStdout())
	}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(cmd *cobra.Command, v any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

var titleCaser = cases.Title(language.English)

// stateLabel formats a state name for display ("processing" -> "Processing").
func stateLabel(state string) string {
	return titleCaser.String(strings.TrimSpace(state))
}

// formatUnix renders a Unix timestamp as local time plus a relative hint.
func formatUnix(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	t := time.Unix(ts, 0)
	return t.Local().Format("2006-01-02 15:04:05") + " (" + humanize.Time(t) + ")"
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func colorState(state string, colorize bool) string {
	label := stateLabel(state)
	if !colorize {
		return label
	}
	var color string
	switch state {
	case "pending":
		color = ansiYellow
	case "processing":
		color = ansiBlue
	case "completed":
		color = ansiGreen
	case "dead":
		color = ansiRed
	}
	if color == "" {
		return label
	}
	return color + label + ansiReset
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

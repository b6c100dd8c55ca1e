package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var cell = lipgloss.NewStyle().Padding(0, 1)

// printer writes command results in the selected format.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(format string, w io.Writer) (printer, error) {
	switch format {
	case formatText, formatJSON, formatYAML:
		return printer{format: format, w: w}, nil
	default:
		return printer{}, fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

// print encodes v as JSON or YAML, or calls text for the text format.
func (p printer) print(v any, text func(w io.Writer) error) error {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(p.w)
	}
}

// writeTable renders rows under headers.
func writeTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style { return cell })
	for _, r := range rows {
		t.Row(r...)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

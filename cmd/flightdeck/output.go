package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/tidwall/pretty"
	"golang.org/x/term"
)

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// printJSON writes v as indented JSON, colored when stdout is a terminal.
func printJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	data = pretty.Pretty(data)
	if stdoutIsTerminal() {
		data = pretty.Color(data, nil)
	}
	_, err = os.Stdout.Write(data)
	return err
}

// printMarkdown renders markdown for the terminal, or writes it raw when
// stdout is redirected.
func printMarkdown(md string) error {
	if !stdoutIsTerminal() {
		_, err := fmt.Fprint(os.Stdout, md)
		return err
	}

	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		width = w - 4
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("creating markdown renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}
	_, err = fmt.Fprint(os.Stdout, out)
	return err
}

package output

import (
	"encoding/json"
	"fmt"
	"os"
)

// Printer renders command results to stdout.
type Printer interface {
	Print(v any) error
}

// JSONPrinter prints results as indented JSON for scripting.
type JSONPrinter struct{}

// Print renders JSON output.
func (JSONPrinter) Print(v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(payload))
	return err
}

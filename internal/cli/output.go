package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output печатает результаты команд: данные в stdout таблицей или JSON,
// сообщения о действиях в stderr. Так вывод с --json можно передать
// в jq без лишних строк.
type Output struct {
	json bool
	w    io.Writer
	errW io.Writer
}

// NewOutput пишет в stdout и stderr.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(os.Stdout, os.Stderr, jsonMode)
}

// NewOutputTo пишет в заданные потоки.
func NewOutputTo(w, errW io.Writer, jsonMode bool) *Output {
	return &Output{json: jsonMode, w: w, errW: errW}
}

// IsJSON — включён режим --json.
func (o *Output) IsJSON() bool { return o.json }

// Print выводит jsonData в режиме --json, иначе таблицу.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.json {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит выровненную таблицу. Пустые ячейки печатаются как "-",
// переводы строк и табуляции в значениях заменяются пробелами.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	writeRow(tw, headers)
	for _, row := range rows {
		writeRow(tw, row)
	}
	tw.Flush()

	if len(rows) == 0 {
		fmt.Fprintln(o.errW, "(no results)")
	}
}

var cellReplacer = strings.NewReplacer("\t", " ", "\n", " ", "\r", "")

func writeRow(w io.Writer, cells []string) {
	clean := make([]string, len(cells))
	for i, c := range cells {
		c = cellReplacer.Replace(c)
		if c == "" {
			c = "-"
		}
		clean[i] = c
	}
	fmt.Fprintln(w, strings.Join(clean, "\t"))
}

// JSON печатает v с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(o.errW, "encode output: %v\n", err)
	}
}

// Notef печатает сообщение о выполненном действии в stderr.
func (o *Output) Notef(format string, args ...any) {
	fmt.Fprintf(o.errW, format+"\n", args...)
}

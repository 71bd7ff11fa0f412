package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

func success(format string, args ...interface{}) {
	color.New(color.FgGreen, color.Bold).Printf(format+"\n", args...)
}

func failure(format string, args ...interface{}) {
	color.New(color.FgRed, color.Bold).Printf(format+"\n", args...)
}

func info(format string, args ...interface{}) {
	color.New(color.FgCyan).Printf(format+"\n", args...)
}

func warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Printf(format+"\n", args...)
}

// table prints left aligned columns under a colored header.
type table struct {
	headers []string
	rows    [][]string
	widths  []int
}

func newTable(headers ...string) *table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &table{headers: headers, widths: widths}
}

func (t *table) addRow(cells ...string) {
	for i, cell := range cells {
		if i < len(t.widths) && len(cell) > t.widths[i] {
			t.widths[i] = len(cell)
		}
	}
	t.rows = append(t.rows, cells)
}

func (t *table) render() {
	header := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		header.Printf("%-*s  ", t.widths[i], h)
	}
	fmt.Println()
	for i := range t.headers {
		fmt.Print(strings.Repeat("-", t.widths[i]), "  ")
	}
	fmt.Println()
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Printf("%-*s  ", t.widths[i], cell)
			}
		}
		fmt.Println()
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

var (
	outputFormat string // "table", "json", "raw"
	outputField  string // for -field=key
)

// printResult outputs data in the chosen format.
func printResult(data map[string]any) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(data) //nolint:errcheck
	case "raw":
		if outputField != "" {
			if v, ok := data[outputField]; ok {
				fmt.Println(v)
			}
			return
		}
		for _, k := range sortedKeys(data) {
			fmt.Printf("%s=%v\n", k, data[k])
		}
	default: // table
		printTable(data)
	}
}

func printTable(data map[string]any) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		writeRow(w, k, data[k], "")
	}
	w.Flush()
}

// writeRow renders one key. Nested objects and lists of objects (devices,
// add-ons) become indented blocks; scalar lists join onto one line.
func writeRow(w *tabwriter.Writer, key string, v any, indent string) {
	switch val := v.(type) {
	case map[string]any:
		fmt.Fprintf(w, "%s%s\t\n", indent, strings.ToUpper(key))
		for _, kk := range sortedKeys(val) {
			writeRow(w, kk, val[kk], indent+"  ")
		}
	case []any:
		if len(val) > 0 {
			if _, ok := val[0].(map[string]any); ok {
				fmt.Fprintf(w, "%s%s\t\n", indent, strings.ToUpper(key))
				for i, item := range val {
					writeRow(w, fmt.Sprintf("[%d]", i), item, indent+"  ")
				}
				return
			}
		}
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprintf("%v", item)
		}
		fmt.Fprintf(w, "%s%s\t%s\n", indent, key, strings.Join(parts, ", "))
	default:
		fmt.Fprintf(w, "%s%s\t%v\n", indent, key, v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printMetadata writes one key=value line per entry in key order
func printMetadata(w io.Writer, md map[string]string) {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s=%s\n", k, md[k])
	}
}

// parseMetadata turns key=value arguments into a map
func parseMetadata(args []string) (map[string]string, error) {
	md := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q: expected key=value", arg)
		}
		md[key] = value
	}
	return md, nil
}

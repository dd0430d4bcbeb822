package cli

import (
	"encoding/json"
	"fmt"
)

// PrintKeyValue writes one aligned "key: value" line.
func PrintKeyValue(key, value string) {
	fmt.Printf("  %-14s %s\n", key+":", value)
}

// PrintJSON pretty-prints any value as indented JSON.
func PrintJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

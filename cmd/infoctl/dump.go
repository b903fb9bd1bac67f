package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"

	"github.com/infod3/infod/internal/client"
)

// dumpEntry is one store entry as it appears in a dump file (spec
// SUPPLEMENTED FEATURES "infoctl dump").
type dumpEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// cmdDump SUBs to "*", collects every catch-up INFO (the store's entire
// contents at that instant), and atomically writes them out as a JSON
// array, the way the teacher's cache.go uses atomic.WriteFile for its own
// snapshot writes: a temp file plus rename, never a half-written dump file
// visible to a concurrent reader.
func cmdDump(c *client.Client, args []string) int {
	path := "infod3-dump.json"
	if len(args) == 1 {
		path = args[0]
	}

	infos, err := c.Sub([]byte("*"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "infoctl:", err)
		return 1
	}

	entries := make([]dumpEntry, 0, len(infos))
	for _, info := range infos {
		if !info.Present {
			continue
		}
		entries = append(entries, dumpEntry{Key: string(info.Key), Value: string(info.Value)})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "infoctl:", err)
		return 1
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		fmt.Fprintln(os.Stderr, "infoctl:", err)
		return 1
	}

	fmt.Printf("wrote %d entries to %s\n", len(entries), path)
	return 0
}

// Package main is the entry point for the corestream-probe tool.
//
// corestream-probe is a small offline inspection tool: it parses a
// manifest file into the Playlist Model, or walks a raw fragment into
// its ISOBMFF box structure or MPEG-TS PAT/PMT/PCR, without opening any
// network connection or driving a playback session. It exists for
// debugging manifests and fragments captured from the field.
package main

import (
	"os"

	"github.com/streamcore/corestream/cmd/corestream-probe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

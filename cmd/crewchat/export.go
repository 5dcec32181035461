package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"

	"github.com/namikmesic/crewchat/internal/chat"
	"github.com/namikmesic/crewchat/internal/viewer"
)

const (
	exportNameMax      = 60
	exportNameFallback = "conversation"
)

// exportName derives the file name of an exported transcript from the
// conversation's first user message.
func exportName(firstMessage string) string {
	name := slug.Make(firstMessage)
	if len(name) > exportNameMax {
		name = strings.TrimRight(name[:exportNameMax], "-")
	}
	if name == "" {
		name = exportNameFallback
	}
	return name + ".html"
}

// exportTranscript writes snap as a standalone HTML page into dir and
// returns the file path.
func exportTranscript(dir, title, firstMessage string, snap chat.Snapshot) (string, error) {
	if len(snap.Messages) == 0 {
		return "", fmt.Errorf("nothing to export")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(dir, exportName(firstMessage))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := viewer.WriteDocument(f, title, snap, false); err != nil {
		f.Close()
		return "", fmt.Errorf("write transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	return path, nil
}

package main

import (
	"fmt"
	"io"

	"indoornav/internal/replay"
)

func summarizeLog(w io.Writer, path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	replay.Summarize(recs).Print(w, path)
	return nil
}

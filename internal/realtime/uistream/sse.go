package uistream

import (
	"encoding/json"
	"fmt"
	"io"
)

const doneFrame = "data: [DONE]\n\n"

// WriteSSE writes ev as a single `data:` frame.
func WriteSSE(w io.Writer, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func WriteDone(w io.Writer) error {
	_, err := io.WriteString(w, doneFrame)
	return err
}

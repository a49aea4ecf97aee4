// Package iojson reads and writes the JSON documents exchanged by the CLI
// and the HTTP API.
package iojson

import (
	"encoding/json"
	"fmt"
	"io"
)

// Error is the body of every failed API response.
type Error struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Code returns Data["code"] when it is a string.
func (e Error) Code() string {
	code, _ := e.Data["code"].(string)
	return code
}

// WriteWith writes obj as indented JSON to w. If obj cannot be encoded an
// Error document describing the failure is written to ew instead.
func WriteWith(w io.Writer, ew io.Writer, obj any) error {
	bits, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		fallback, _ := json.Marshal(Error{
			Message: "failed to encode output",
			Data:    map[string]any{"json_error": err.Error()},
		})
		if _, werr := fmt.Fprintln(ew, string(fallback)); werr != nil {
			return werr
		}
		return fmt.Errorf("encode output: %w", err)
	}

	_, err = fmt.Fprintln(w, string(bits))
	return err
}

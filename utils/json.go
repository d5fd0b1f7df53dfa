package utils

import (
	"encoding/json"
	"fmt"
	"os"
)

// Marshal generic struct to JSON
func MarshalToJSON[T any](input T) (string, error) {
	jsonData, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

// MarshalIndented renders input as two-space indented JSON with a trailing newline.
func MarshalIndented[T any](input T) ([]byte, error) {
	jsonData, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(jsonData, '\n'), nil
}

// ReadJSONFile decodes path into output. The path is part of every error.
func ReadJSONFile[T any](path string, output *T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, output); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// WriteJSONFile writes input to path as indented JSON.
func WriteJSONFile[T any](path string, input T) error {
	data, err := MarshalIndented(input)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

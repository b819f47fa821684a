package aster

import (
	"encoding/json"
	"fmt"
)

// ConfigError reports unusable credentials or client settings. It is raised
// before any request leaves the process.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("aster config: %s: %s", e.Field, e.Msg)
}

// APIError is a non-2xx response from the exchange.
type APIError struct {
	Method string
	Path   string
	Status int
	Code   int
	Msg    string
	Body   string
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("aster %s %s status %d: code=%d msg=%s", e.Method, e.Path, e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("aster %s %s status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	apiErr := &APIError{Method: method, Path: path, Status: status, Body: string(body)}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Msg = payload.Msg
	}
	return apiErr
}

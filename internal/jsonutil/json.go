// Package jsonutil centralizes JSON decoding behind a fast codec so
// callers never import the backing library directly.
package jsonutil

import "github.com/bytedance/sonic"

var api = sonic.ConfigStd

// Unmarshal decodes JSON into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

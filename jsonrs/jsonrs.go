// Package jsonrs is the JSON codec used across netsync.
package jsonrs

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

var std = jsoniter.ConfigCompatibleWithStandardLibrary

type Decoder interface {
	Decode(v any) error
	More() bool
	UseNumber()
}

type Encoder interface {
	Encode(v any) error
	SetIndent(prefix, indent string)
}

func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return std.MarshalIndent(v, prefix, indent)
}

func MarshalToString(v any) (string, error) {
	return std.MarshalToString(v)
}

func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

func NewDecoder(r io.Reader) Decoder {
	return std.NewDecoder(r)
}

func NewEncoder(w io.Writer) Encoder {
	return std.NewEncoder(w)
}

// Copyright 2025 The Cantor Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package serialization provides the public API for the ordered token
// streams components persist themselves in.
//
// Example:
//
//	var buf bytes.Buffer
//	w := serialization.NewWriter(&buf, true)
//	if err := conv.Write(w); err != nil {
//		log.Fatal(err)
//	}
//	if err := w.Flush(); err != nil {
//		log.Fatal(err)
//	}
package serialization

import (
	"io"

	"github.com/cantor-asr/cantor/internal/serialization"
)

// Writer emits an ordered token stream.
type Writer = serialization.Writer

// Reader consumes an ordered token stream.
type Reader = serialization.Reader

// Errors returned by the reader and writer.
var (
	ErrUnexpectedToken = serialization.ErrUnexpectedToken
	ErrInvalidToken    = serialization.ErrInvalidToken
	ErrCorrupt         = serialization.ErrCorrupt
)

// NewWriter returns a writer over w, in binary or text encoding.
func NewWriter(w io.Writer, binary bool) *Writer {
	return serialization.NewWriter(w, binary)
}

// NewReader returns a reader over r, detecting the encoding from the
// stream's leading bytes.
func NewReader(r io.Reader) (*Reader, error) {
	return serialization.NewReader(r)
}

// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package csvstream

import (
	"fmt"
	"os"

	"github.com/linkedin/goavro/v2"
)

const traceFrameSchema = `{
	"type": "record",
	"name": "TraceFrame",
	"fields": [
		{"name": "time", "type": "double"},
		{"name": "channel", "type": "int"},
		{"name": "value", "type": "long"}
	]
}`

// AvroFrameLogger appends raw decoded trace frames to a compressed Avro
// object-container file, independent of (and at finer grain than) the CSV
// log: every channel update is one record rather than one row per tick.
type AvroFrameLogger struct {
	file   *os.File
	writer *goavro.OCFWriter
}

// NewAvroFrameLogger opens path, creating a new OCF file with the fixed
// trace-frame schema.
func NewAvroFrameLogger(path string) (*AvroFrameLogger, error) {
	codec, err := goavro.NewCodec(traceFrameSchema)
	if err != nil {
		return nil, fmt.Errorf("csvstream: building avro codec: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csvstream: creating %s: %w", path, err)
	}

	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               f,
		Codec:           codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csvstream: creating avro writer: %w", err)
	}

	return &AvroFrameLogger{file: f, writer: writer}, nil
}

// WriteFrame appends one (time, channel, value) record.
func (l *AvroFrameLogger) WriteFrame(t float64, channel int, value uint32) error {
	record := map[string]any{
		"time":    t,
		"channel": int32(channel),
		"value":   int64(value),
	}
	return l.writer.Append([]any{record})
}

// Close closes the underlying file. The OCF writer has no separate flush
// step; every Append call writes a complete block.
func (l *AvroFrameLogger) Close() error {
	return l.file.Close()
}

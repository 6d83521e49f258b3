// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package csvstream appends one time-stamped row per acquisition tick to a
// CSV file, plus optional S3 archival and Avro frame logging extensions
// exercised once a tick's values are known. Not thread-safe internally —
// callers (the viewer/trace handler worker goroutines) own their own
// Streamer and call it from one goroutine only.
package csvstream

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// Streamer appends rows to a CSV file: time, then the header's series
// names in insertion order. Missing values for a tick are written blank.
type Streamer struct {
	file   *os.File
	writer *csv.Writer
	header []string
}

// NewStreamer returns an unopened streamer.
func NewStreamer() *Streamer {
	return &Streamer{}
}

// PrepareFile opens path for writing, replacing any existing content.
func (s *Streamer) PrepareFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csvstream: prepare %s: %w", path, err)
	}
	s.file = f
	s.writer = csv.NewWriter(f)
	return nil
}

// CreateHeader writes the header row "time,<name1>,<name2>,..." and
// records the column order subsequent WriteLine calls must honor.
func (s *Streamer) CreateHeader(names []string) error {
	if s.writer == nil {
		return fmt.Errorf("csvstream: CreateHeader called before PrepareFile")
	}
	s.header = append([]string{"time"}, names...)
	return s.writer.Write(s.header)
}

// WriteLine writes one row: t formatted with default float precision,
// then each header column's value from values (or blank if absent).
func (s *Streamer) WriteLine(t float64, values map[string]float64) error {
	if s.writer == nil {
		return fmt.Errorf("csvstream: WriteLine called before PrepareFile")
	}

	row := make([]string, len(s.header))
	row[0] = strconv.FormatFloat(t, 'g', -1, 64)
	for i, name := range s.header[1:] {
		if v, ok := values[name]; ok {
			row[i+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	return s.writer.Write(row)
}

// FinishLogging flushes and closes the underlying file.
func (s *Streamer) FinishLogging() error {
	if s.writer == nil {
		return nil
	}
	s.writer.Flush()
	err := s.writer.Error()
	if closeErr := s.file.Close(); err == nil {
		err = closeErr
	}
	s.writer = nil
	s.file = nil
	return err
}

// Path returns the path of the file currently open via PrepareFile, for
// handing off to an archival extension (S3Archiver). It returns "" once
// FinishLogging has closed the file, so callers read it before finishing.
func (s *Streamer) Path() string {
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}

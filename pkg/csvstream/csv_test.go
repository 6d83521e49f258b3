// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package csvstream

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStreamerWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	s := NewStreamer()
	if err := s.PrepareFile(path); err != nil {
		t.Fatalf("PrepareFile: %v", err)
	}
	if err := s.CreateHeader([]string{"a", "b"}); err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	if err := s.WriteLine(1, map[string]float64{"a": 10, "b": 20}); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if err := s.WriteLine(2, map[string]float64{"a": 30}); err != nil {
		t.Fatalf("WriteLine (missing b): %v", err)
	}
	if err := s.FinishLogging(); err != nil {
		t.Fatalf("FinishLogging: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "time,a,b\n1,10,20\n2,30,\n"
	if string(data) != want {
		t.Errorf("csv content = %q, want %q", string(data), want)
	}
}

func TestWriteLineBeforePrepareFails(t *testing.T) {
	s := NewStreamer()
	if err := s.WriteLine(1, nil); err == nil {
		t.Error("WriteLine before PrepareFile should fail")
	}
}

func TestFinishLoggingWithoutPrepareIsNoop(t *testing.T) {
	s := NewStreamer()
	if err := s.FinishLogging(); err != nil {
		t.Errorf("FinishLogging without PrepareFile should be a no-op, got %v", err)
	}
}

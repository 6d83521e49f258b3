// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package symbols

import (
	"bufio"
	"io"
	"os/exec"
)

// process wraps a subprocess with the minimal contract the symbol resolver
// needs: execute a command, stream stdout until a terminator string
// appears. The real platform-specific process plumbing is out of scope
// (spec.md §1); this is a stdlib os/exec implementation of that contract.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func startProcess(name string, args ...string) (*process, error) {
	cmd := exec.Command(name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &process{cmd: cmd, stdin: stdin, stdout: bufio.NewReaderSize(stdout, 4096)}, nil
}

// executeCmd writes command to the subprocess' stdin (if non-empty) and
// accumulates stdout up to and including terminator. A disconnected pipe
// surfaces as a non-nil error alongside whatever was accumulated.
func (p *process) executeCmd(command, terminator string) (string, error) {
	if command != "" {
		if _, err := io.WriteString(p.stdin, command); err != nil {
			return "", err
		}
	}

	var out []byte
	tail := make([]byte, 0, len(terminator))
	buf := make([]byte, 1)

	for {
		n, err := p.stdout.Read(buf)
		if n > 0 {
			out = append(out, buf[0])
			tail = append(tail, buf[0])
			if len(tail) > len(terminator) {
				tail = tail[1:]
			}
			if string(tail) == terminator {
				return string(out), nil
			}
		}
		if err != nil {
			return string(out), err
		}
	}
}

func (p *process) close() error {
	p.stdin.Close()
	return p.cmd.Wait()
}

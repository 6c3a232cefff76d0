package domain

import (
	"fmt"
	"strings"
)

// Readiness error codes surfaced to clients before a job is created.
const (
	CodeEngineNotReady    = "ENGINE_NOT_READY"
	CodeOutputNotWritable = "OUTPUT_NOT_WRITABLE"
)

// ReadinessError means the engine prerequisites are not met. It is a
// request-time rejection, never a job failure.
type ReadinessError struct {
	Code    string
	Message string
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EngineCommandError carries the full captured output of a failed external
// geometry command. The text is what operators debug from, so nothing is
// truncated here.
type EngineCommandError struct {
	Cmd      []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *EngineCommandError) Error() string {
	return fmt.Sprintf("command failed: %s\n\nSTDOUT:\n%s\n\nSTDERR:\n%s",
		strings.Join(e.Cmd, " "), e.Stdout, e.Stderr)
}

// GenerateResult is the normalized output of one geometry-engine run.
type GenerateResult struct {
	HeightmapPath string
	STLPath       string
	ManifestPath  string

	Params        ReliefParams // effective parameters after schema filtering
	DroppedParams []string
}

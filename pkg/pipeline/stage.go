// Package pipeline drives a document from upload to a completed graph,
// summary, vector index entries and cache entry.
package pipeline

import (
	"github.com/pkg/errors"
)

// Kind classifies a stage failure by how the pipeline reacts to it.
type Kind string

const (
	// FatalPrecondition stops processing before any external call.
	FatalPrecondition Kind = "fatal_precondition"
	// ExtractionOrGraphFailure fails the document.
	ExtractionOrGraphFailure Kind = "extraction_or_graph_failure"
	// DegradedEnrichment is replaced by a fallback value.
	DegradedEnrichment Kind = "degraded_enrichment"
	// BestEffortSideEffectFailure is logged only.
	BestEffortSideEffectFailure Kind = "best_effort_side_effect_failure"
)

// Stage names.
const (
	StagePrecondition = "precondition"
	StageExtract      = "extract"
	StageBuild        = "build"
	StageSerialize    = "serialize"
	StageSummarize    = "summarize"
	StageEmbed        = "embed"
	StageIndex        = "index"
	StageCache        = "cache"
	StageExport       = "export"
	StageComplete     = "complete"
)

// ErrMissingAPIKey is the precondition failure recorded when no model API
// key is configured.
var ErrMissingAPIKey = errors.New("OPENROUTER_API_KEY not configured. Vision processing requires API key.")

// StageError is a failure of one stage. Its message is the underlying
// error's message unchanged.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one stage: a value or a stage error.
type Result[T any] struct {
	Value T
	Err   *StageError
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

func ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func failed[T any](stage string, kind Kind, err error) Result[T] {
	return Result[T]{Err: &StageError{Stage: stage, Kind: kind, Err: err}}
}

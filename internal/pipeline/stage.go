// Package pipeline runs the dataset stages in order and reports what each did.
package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageClean     Stage = "clean"
	StageAssemble  Stage = "assemble"
	StageSummarize Stage = "summarize"
	StageIndex     Stage = "index"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageFetch, StageClean, StageAssemble, StageSummarize, StageIndex}

// ErrUnknownStage is returned by ParseStage for a name that is not a stage.
var ErrUnknownStage = errors.New("unknown stage")

// ParseStage converts a stage name. "parse" is accepted as an alias for clean,
// which parses and cleans in one pass.
func ParseStage(s string) (Stage, error) {
	name := Stage(strings.ToLower(strings.TrimSpace(s)))
	if name == "parse" {
		return StageClean, nil
	}
	if slices.Contains(Stages, name) {
		return name, nil
	}
	return "", fmt.Errorf("%w: %q (stages: %s)", ErrUnknownStage, s, stageList())
}

// From returns the stages from s to the end.
func From(s Stage) ([]Stage, error) {
	i := slices.Index(Stages, s)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
	return Stages[i:], nil
}

func stageList() string {
	names := make([]string, len(Stages))
	for i, s := range Stages {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

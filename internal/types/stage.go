package types

import (
	"fmt"
	"strings"
)

// Stage 表示交易成熟度阶段，严格有序。
type Stage int

const (
	StageExperience Stage = iota
	StageProofOfConcept
	StageRealMoneyTrial
	StageScaling
)

var stageNames = map[Stage]string{
	StageExperience:     "experience",
	StageProofOfConcept: "proof_of_concept",
	StageRealMoneyTrial: "real_money_trial",
	StageScaling:        "scaling",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// Next 返回下一阶段；Scaling 已是最高阶段。
func (s Stage) Next() (Stage, bool) {
	if !s.Valid() || s == StageScaling {
		return s, false
	}
	return s + 1, true
}

// Prev 返回前一阶段；永远不会低于 Experience。
func (s Stage) Prev() (Stage, bool) {
	if !s.Valid() || s == StageExperience {
		return s, false
	}
	return s - 1, true
}

func ParseStage(raw string) (Stage, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for stage, name := range stageNames {
		if name == normalized {
			return stage, nil
		}
	}
	return StageExperience, fmt.Errorf("unknown stage: %q", raw)
}

func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(data []byte) error {
	parsed, err := ParseStage(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AllStages 按顺序返回全部阶段。
func AllStages() []Stage {
	return []Stage{StageExperience, StageProofOfConcept, StageRealMoneyTrial, StageScaling}
}

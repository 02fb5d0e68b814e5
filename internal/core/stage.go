package core

// Stage is the instruction regime that governs one upstream call.
type Stage int

const (
	StageIntake Stage = iota + 1
	StageAnalysis
	StageNatural
)

var stageNames = map[Stage]string{
	StageIntake:   "intake",
	StageAnalysis: "analysis",
	StageNatural:  "natural",
}

var stagePrompts = map[Stage]string{
	StageIntake:   IntakePrompt,
	StageAnalysis: AnalysisPrompt,
	StageNatural:  NaturalPrompt,
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Instruction returns the system directive placed ahead of the conversation.
func (s Stage) Instruction() string {
	return stagePrompts[s]
}

// SelectStage maps the number of patient turns to a stage.  Counts below one
// never reach here; the orchestrator rejects histories without a patient
// turn.
func SelectStage(userTurnCount int) Stage {
	switch {
	case userTurnCount <= 1:
		return StageIntake
	case userTurnCount == 2:
		return StageAnalysis
	default:
		return StageNatural
	}
}

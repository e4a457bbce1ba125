package conversation

import "fmt"

// Stage is where a conversation sits in the intake funnel.
type Stage string

const (
	StageBoasVindas     Stage = "boas_vindas"
	StageColetaDados    Stage = "coleta_dados"
	StageAguardandoInfo Stage = "aguardando_info"
	StageApresentacao   Stage = "apresentacao"
	StageInteresse      Stage = "interesse"
	StageAgendamento    Stage = "agendamento"
	StageSemMatch       Stage = "sem_match"
	StageRefinamento    Stage = "refinamento"
)

// Stages lists every stage.
var Stages = []Stage{
	StageBoasVindas, StageColetaDados, StageAguardandoInfo, StageApresentacao,
	StageInteresse, StageAgendamento, StageSemMatch, StageRefinamento,
}

// ParseStage validates s. Unknown labels are rejected.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("conversation: unknown stage %q", s)
}

// Intent is the customer's intention in the latest turn.
type Intent string

const (
	IntentNone     Intent = "none"
	IntentInterest Intent = "interest"
	IntentSchedule Intent = "schedule"
	IntentRefine   Intent = "refine"
)

// ParseIntent maps a model-produced label onto an Intent. Portuguese and
// English labels are accepted; anything else is IntentNone.
func ParseIntent(s string) Intent {
	switch fold(s) {
	case "interest", "interesse", "interessado":
		return IntentInterest
	case "schedule", "agendamento", "agendar", "visita":
		return IntentSchedule
	case "refine", "refinamento", "refinar", "ajustar":
		return IntentRefine
	default:
		return IntentNone
	}
}

// Signals are the facts about the latest turn that drive a transition.
type Signals struct {
	HasCriteria bool
	Intent      Intent
}

// Transition is the outcome of Next. Qualify means the customer asked for a
// visit: the lead becomes qualificado, the conversation waits for an agent
// and agents are notified.
type Transition struct {
	From    Stage
	To      Stage
	Qualify bool
}

// Changed reports whether the stage moves.
func (t Transition) Changed() bool { return t.From != t.To }

// Next computes the stage after a regular (non-welcome) turn.
//
//	boas_vindas                        -> coleta_dados
//	coleta_dados    without criteria   -> aguardando_info
//	aguardando_info with criteria      -> coleta_dados
//	apresentacao    interest           -> interesse
//	apresentacao    schedule           -> agendamento (qualify)
//	apresentacao    refine             -> refinamento
//	interesse       schedule           -> agendamento (qualify)
//	interesse       refine             -> refinamento
//	sem_match                          -> refinamento
//	refinamento                        -> coleta_dados
//
// Every other combination keeps the stage.
func Next(from Stage, sig Signals) Transition {
	t := Transition{From: from, To: from}
	switch from {
	case StageBoasVindas:
		t.To = StageColetaDados
	case StageColetaDados:
		if !sig.HasCriteria {
			t.To = StageAguardandoInfo
		}
	case StageAguardandoInfo:
		if sig.HasCriteria {
			t.To = StageColetaDados
		}
	case StageApresentacao:
		switch sig.Intent {
		case IntentSchedule:
			t.To, t.Qualify = StageAgendamento, true
		case IntentInterest:
			t.To = StageInteresse
		case IntentRefine:
			t.To = StageRefinamento
		}
	case StageInteresse:
		switch sig.Intent {
		case IntentSchedule:
			t.To, t.Qualify = StageAgendamento, true
		case IntentRefine:
			t.To = StageRefinamento
		}
	case StageSemMatch:
		t.To = StageRefinamento
	case StageRefinamento:
		t.To = StageColetaDados
	}
	return t
}

// ShouldMatch reports whether the catalog should be searched in stage s.
// Collecting stages always search once criteria are complete; refinamento
// searches again only when the criteria changed this turn.
func (s Stage) ShouldMatch(criteriaChanged bool) bool {
	switch s {
	case StageColetaDados, StageAguardandoInfo:
		return true
	case StageRefinamento:
		return criteriaChanged
	default:
		return false
	}
}

// AfterMatch is the stage following a catalog search.
func AfterMatch(found bool) Stage {
	if found {
		return StageApresentacao
	}
	return StageSemMatch
}

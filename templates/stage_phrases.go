package templates

import (
	"fmt"

	"patient-call-service/internal/domain/entity"
)

// Placeholders understood by stage phrase templates
const (
	PlaceholderName   = "name"
	PlaceholderTicket = "ticket"
	PlaceholderRoom   = "room"
	PlaceholderStage  = "stage"
)

var stageLabels = map[entity.Stage]string{
	entity.StageTriage:     "triagem",
	entity.StageDoctor:     "consultório médico",
	entity.StageECG:        "eletrocardiograma",
	entity.StageCurativos:  "sala de curativos",
	entity.StageRaioX:      "raio-x",
	entity.StageEnfermaria: "enfermaria",
}

var stagePhrases = map[entity.Stage]string{
	entity.StageTriage: "Senha {ticket}, {name}, por favor dirija-se à {stage} {room}",
	entity.StageDoctor: "Senha {ticket}, {name}, por favor dirija-se ao {stage} {room}",
}

// defaultPhrase is used by procedure stages and by any stage without its own
const defaultPhrase = "Senha {ticket}, {name}, por favor compareça à {stage} {room}"

// StageLabel returns the spoken name of a stage
func StageLabel(stage entity.Stage) string {
	if label, ok := stageLabels[stage]; ok {
		return label
	}
	return string(stage)
}

// StagePhrase returns the built-in announcement template of a stage
func StagePhrase(stage entity.Stage) string {
	if tpl, ok := stagePhrases[stage]; ok {
		return tpl
	}
	return defaultPhrase
}

// ClockPhrase is the fixed-form time announcement pre-rendered ahead of need
func ClockPhrase(hour, minute int) string {
	switch {
	case minute == 0 && hour == 1:
		return "Atenção, é uma hora"
	case minute == 0:
		return fmt.Sprintf("Atenção, são %d horas", hour)
	case hour == 1:
		return fmt.Sprintf("Atenção, é uma hora e %d minutos", minute)
	default:
		return fmt.Sprintf("Atenção, são %d horas e %d minutos", hour, minute)
	}
}

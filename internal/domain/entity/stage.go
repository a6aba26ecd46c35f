package entity

// Stage is one step of the care pathway
type Stage string

const (
	StageTriage     Stage = "triage"
	StageDoctor     Stage = "doctor"
	StageECG        Stage = "ecg"
	StageCurativos  Stage = "curativos"
	StageRaioX      Stage = "raiox"
	StageEnfermaria Stage = "enfermaria"
)

// Status is the lifecycle state of a patient
type Status string

const (
	StatusWaiting           Status = "waiting"
	StatusInTriage          Status = "in-triage"
	StatusWaitingDoctor     Status = "waiting-doctor"
	StatusInConsultation    Status = "in-consultation"
	StatusWaitingECG        Status = "waiting-ecg"
	StatusWaitingCurativos  Status = "waiting-curativos"
	StatusWaitingRaioX      Status = "waiting-raiox"
	StatusWaitingEnfermaria Status = "waiting-enfermaria"
	StatusInECG             Status = "in-ecg"
	StatusInCurativos       Status = "in-curativos"
	StatusInRaioX           Status = "in-raiox"
	StatusInEnfermaria      Status = "in-enfermaria"
	StatusAttended          Status = "attended"
)

// Stages lists every stage in pathway order
var Stages = []Stage{StageTriage, StageDoctor, StageECG, StageCurativos, StageRaioX, StageEnfermaria}

type stageStates struct {
	waiting Status
	serving Status
	next    *Stage
}

func stagePtr(s Stage) *Stage { return &s }

// stageTable is the fixed stage-order table. A nil next means the stage
// finishes the pathway and attended patients become terminal.
var stageTable = map[Stage]stageStates{
	StageTriage:     {waiting: StatusWaiting, serving: StatusInTriage, next: stagePtr(StageDoctor)},
	StageDoctor:     {waiting: StatusWaitingDoctor, serving: StatusInConsultation},
	StageECG:        {waiting: StatusWaitingECG, serving: StatusInECG},
	StageCurativos:  {waiting: StatusWaitingCurativos, serving: StatusInCurativos},
	StageRaioX:      {waiting: StatusWaitingRaioX, serving: StatusInRaioX},
	StageEnfermaria: {waiting: StatusWaitingEnfermaria, serving: StatusInEnfermaria},
}

// Valid reports whether s is a known stage
func (s Stage) Valid() bool {
	_, ok := stageTable[s]
	return ok
}

// WaitingStatus returns the queue status of the stage
func (s Stage) WaitingStatus() Status {
	return stageTable[s].waiting
}

// ServingStatus returns the in-service status of the stage
func (s Stage) ServingStatus() Status {
	return stageTable[s].serving
}

// Next returns the following stage in the fixed table, if any
func (s Stage) Next() (Stage, bool) {
	st, ok := stageTable[s]
	if !ok || st.next == nil {
		return "", false
	}
	return *st.next, true
}

// IsProcedure reports whether the stage is one the doctor refers to
func (s Stage) IsProcedure() bool {
	switch s {
	case StageECG, StageCurativos, StageRaioX, StageEnfermaria:
		return true
	}
	return false
}

// ParseStage validates a stage code
func ParseStage(code string) (Stage, error) {
	s := Stage(code)
	if !s.Valid() {
		return "", ErrUnknownStage
	}
	return s, nil
}

// Valid reports whether the status is part of the enumeration
func (s Status) Valid() bool {
	if s == StatusAttended {
		return true
	}
	_, ok := s.Stage()
	return ok
}

// IsTerminal reports whether no more transitions are accepted
func (s Status) IsTerminal() bool {
	return s == StatusAttended
}

// IsServing reports whether the status is an in-service state
func (s Status) IsServing() bool {
	for _, st := range stageTable {
		if st.serving == s {
			return true
		}
	}
	return false
}

// IsWaiting reports whether the status is a queue state
func (s Status) IsWaiting() bool {
	for _, st := range stageTable {
		if st.waiting == s {
			return true
		}
	}
	return false
}

// Stage returns the stage a waiting or in-service status belongs to
func (s Status) Stage() (Stage, bool) {
	for stage, st := range stageTable {
		if st.waiting == s || st.serving == s {
			return stage, true
		}
	}
	return "", false
}

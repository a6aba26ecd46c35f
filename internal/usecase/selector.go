package usecase

import (
	"sort"

	"patient-call-service/internal/domain/entity"
)

// SelectNext picks the next patient to call for a stage: highest priority
// first, oldest first inside a priority, candidate order on exact ties.
// It returns false when nobody is waiting for the stage.
func SelectNext(candidates []entity.Patient, stage entity.Stage) (entity.Patient, bool) {
	if !stage.Valid() {
		return entity.Patient{}, false
	}

	waiting := stage.WaitingStatus()
	queue := make([]entity.Patient, 0, len(candidates))
	for _, p := range candidates {
		if p.Status == waiting {
			queue = append(queue, p)
		}
	}
	if len(queue) == 0 {
		return entity.Patient{}, false
	}

	sort.SliceStable(queue, func(i, j int) bool {
		ri, rj := queue[i].Priority.Rank(), queue[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return queue[i].CreatedAt.Before(queue[j].CreatedAt)
	})

	return queue[0].Clone(), true
}

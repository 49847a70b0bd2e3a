package dosestatus

import (
	"context"
	"sort"
	"sync"
	"time"

	"vaxledger/internal/records/models"
	"vaxledger/internal/schedule"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
)

// InMemory keeps dose statuses per child keyed by the normalized catalog key.
type InMemory struct {
	mu    sync.RWMutex
	doses map[id.ChildID]map[schedule.Key]models.DoseStatus
}

func NewInMemory() *InMemory {
	return &InMemory{doses: make(map[id.ChildID]map[schedule.Key]models.DoseStatus)}
}

// InsertAll stores the full set for a child. A child that already has
// statuses is rejected as a whole.
func (s *InMemory) InsertAll(_ context.Context, childID id.ChildID, statuses []models.DoseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.doses[childID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	set := make(map[schedule.Key]models.DoseStatus, len(statuses))
	for _, d := range statuses {
		if _, dup := set[d.Key()]; dup {
			return sentinel.ErrAlreadyUsed
		}
		set[d.Key()] = d
	}
	s.doses[childID] = set
	return nil
}

func (s *InMemory) ListByChild(_ context.Context, childID id.ChildID) ([]models.DoseStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.doses[childID]
	out := make([]models.DoseStatus, 0, len(set))
	for _, d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgeInMonths != out[j].AgeInMonths {
			return out[i].AgeInMonths < out[j].AgeInMonths
		}
		if out[i].VaccineName != out[j].VaccineName {
			return out[i].VaccineName < out[j].VaccineName
		}
		return out[i].DoseNumber < out[j].DoseNumber
	})
	return out, nil
}

// MarkCompleted reports whether the row changed. A row already completed is
// left untouched.
func (s *InMemory) MarkCompleted(_ context.Context, childID id.ChildID, vaccineName string, doseNumber int, completedDate time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := schedule.KeyOf(vaccineName, doseNumber)
	d, ok := s.doses[childID][key]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if d.Status == models.DoseCompleted {
		return false, nil
	}
	d.Status = models.DoseCompleted
	completed := completedDate
	d.CompletedDate = &completed
	s.doses[childID][key] = d
	return true, nil
}

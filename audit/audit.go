package audit

import (
	"time"

	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
)

// Service is the append-only audit trail. A failed append propagates to
// the caller: an unaudited mutation is treated as a defect, not a warning.
type Service struct {
	storage persistence.AuditStorage
}

func NewService(storage persistence.AuditStorage) *Service {
	return &Service{storage: storage}
}

func (s *Service) Log(entity string, entityId string, action string, actorId string, payload map[string]any) error {
	return s.storage.Append(model.AuditEntry{
		Entity:    entity,
		EntityId:  entityId,
		Action:    action,
		ActorId:   actorId,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
}

// GetHistory returns entries for the entity ordered by creation time
// ascending.
func (s *Service) GetHistory(entityId string) ([]model.AuditEntry, error) {
	return s.storage.GetHistory(entityId)
}

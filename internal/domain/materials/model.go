package materials

import "github.com/google/uuid"

type Material struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`     // единица отображения ("мешок")
	BaseUnit  string    `json:"baseUnit"` // базовая единица учёта ("кг")
	CreatedAt int64     `json:"createdAt"` // epoch millis, начало дня создания
	DeletedAt *int64    `json:"deletedAt,omitempty"`
}

// ActiveAsOf: материал жив на день D, если создан не позже конца D
// и не удалён к концу D.
func (m Material) ActiveAsOf(endOfDay int64) bool {
	if m.CreatedAt > endOfDay {
		return false
	}
	return m.DeletedAt == nil || *m.DeletedAt > endOfDay
}

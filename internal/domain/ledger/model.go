package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Field — редактируемое поле движения за день.
type Field string

const (
	FieldInbound     Field = "inbound"      // приход за день
	FieldWorkshopOut Field = "workshop_out" // отпуск в цех
	FieldStoreOut    Field = "store_out"    // отпуск со склада
)

// DailyRecord — строка журнала на (материал, день). Остаток на конец дня
// становится открытием следующей существующей записи.
type DailyRecord struct {
	MaterialID  uuid.UUID `json:"materialId"`
	Day         string    `json:"day"` // YYYY-MM-DD в бизнес-зоне
	Opening     float64   `json:"opening"`
	Inbound     float64   `json:"inbound"`
	WorkshopOut float64   `json:"workshopOut"`
	StoreOut    float64   `json:"storeOut"`
	Remaining   float64   `json:"remaining"`
}

// Recompute восстанавливает балансовое равенство. Зовётся после любой правки полей.
func (r *DailyRecord) Recompute() {
	r.Remaining = r.Opening + r.Inbound - r.WorkshopOut - r.StoreOut
}

func (r *DailyRecord) SetField(f Field, v float64) error {
	switch f {
	case FieldInbound:
		r.Inbound = v
	case FieldWorkshopOut:
		r.WorkshopOut = v
	case FieldStoreOut:
		r.StoreOut = v
	default:
		return fmt.Errorf("%w: unknown field %q", ErrValidation, f)
	}
	r.Recompute()
	return nil
}

// Critical — строгое "меньше": остаток ровно на пороге критичным не считается.
// Никогда не хранится, вычисляется на каждом чтении.
func (r DailyRecord) Critical(threshold float64) bool {
	return r.Remaining < threshold
}

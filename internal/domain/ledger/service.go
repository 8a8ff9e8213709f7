package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/stock-ledger/internal/cache"
	"github.com/Spok95/stock-ledger/internal/calendar"
	"github.com/Spok95/stock-ledger/internal/domain/audit"
	"github.com/Spok95/stock-ledger/internal/domain/materials"
	"github.com/Spok95/stock-ledger/internal/infra/db"
)

// ErrValidation — ошибка входных данных, до стора не доходим.
var ErrValidation = errors.New("validation")

// Catalog — операции над справочником материалов.
type Catalog interface {
	FindActiveAsOf(ctx context.Context, endOfDay int64) ([]materials.Material, error)
	GetByID(ctx context.Context, id uuid.UUID) (*materials.Material, error)
	Page(ctx context.Context, search string, page, size int) ([]materials.Material, int, error)
	SoftDeleteBatch(ctx context.Context, ids []uuid.UUID, ts int64) error
}

// Records — операции над журналом дня.
type Records interface {
	Get(ctx context.Context, materialID uuid.UUID, day string) (*DailyRecord, error)
	LatestBefore(ctx context.Context, materialID uuid.UUID, day string) (*DailyRecord, error)
	Insert(ctx context.Context, rec DailyRecord) error
	Upsert(ctx context.Context, rec DailyRecord) error
	InsertMaterial(ctx context.Context, m materials.Material, first DailyRecord) error
	InventoryPage(ctx context.Context, day, search string, page, size int) ([]InventoryRow, int, error)
}

// Thresholds отдаёт настраиваемый порог критичного остатка.
type Thresholds interface {
	LowStockThreshold(ctx context.Context) (float64, error)
}

// Auditor фиксирует след каждой успешной мутации.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

type InventoryRow struct {
	Material materials.Material `json:"material"`
	Record   DailyRecord        `json:"record"`
}

// InventoryItem — строка для выдачи: критичность пересчитана на этом чтении,
// в кэш она не попадает.
type InventoryItem struct {
	InventoryRow
	Critical bool `json:"critical"`
}

type TTL struct {
	Catalog time.Duration // справочник
	Listing time.Duration // страницы
}

type invPage struct {
	Items []InventoryRow `json:"items"`
	Total int            `json:"total"`
}

type matPage struct {
	Items []materials.Material `json:"items"`
	Total int                  `json:"total"`
}

// Service — движок журнала: перенос остатков, инициализация дня, правки движений.
// Чтения идут через двухуровневый кэш, мутации — мимо него, с инвалидацией после.
type Service struct {
	catalog    Catalog
	records    Records
	thresholds Thresholds
	auditor    Auditor
	cache      *cache.Tiered
	inv        *cache.Invalidator
	cal        calendar.Calendar
	ttl        TTL
	log        *slog.Logger
}

func NewService(catalog Catalog, records Records, thresholds Thresholds, auditor Auditor, c *cache.Tiered, inv *cache.Invalidator, cal calendar.Calendar, ttl TTL, log *slog.Logger) *Service {
	return &Service{
		catalog:    catalog,
		records:    records,
		thresholds: thresholds,
		auditor:    auditor,
		cache:      c,
		inv:        inv,
		cal:        cal,
		ttl:        ttl,
		log:        log,
	}
}

// audit пишет след мутации. Мутация уже в сторе, поэтому сбой записи
// следа её не откатывает — только warning в лог.
func (s *Service) audit(ctx context.Context, action, detail string) {
	e := audit.Entry{At: time.Now().UnixMilli(), Actor: "system", Action: action, Detail: detail}
	if err := s.auditor.Record(ctx, e); err != nil {
		s.log.Warn("audit record failed", "action", action, "err", err)
	}
}

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

// InitializeDate доводит день до состояния "по записи на каждый живой материал".
// Открытие — остаток ближайшей предыдущей записи (разрыв в днях не помеха),
// без истории — ноль. Идемпотентна: повторный вызов ничего не вставляет.
func (s *Service) InitializeDate(ctx context.Context, day string) (int, error) {
	if day == "" {
		day = s.cal.Today()
	}
	endOfDay, err := s.cal.EndOfDay(day)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	mats, err := s.catalog.FindActiveAsOf(ctx, endOfDay)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, m := range mats {
		existing, err := s.records.Get(ctx, m.ID, day)
		if err != nil {
			return inserted, err
		}
		if existing != nil {
			continue
		}

		opening := 0.0
		prev, err := s.records.LatestBefore(ctx, m.ID, day)
		if err != nil {
			return inserted, err
		}
		if prev != nil {
			opening = prev.Remaining
		}

		rec := DailyRecord{MaterialID: m.ID, Day: day, Opening: opening, Remaining: opening}
		if err := s.records.Insert(ctx, rec); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				// параллельная инициализация успела первой — день уже готов
				continue
			}
			return inserted, err
		}
		inserted++
	}

	if inserted > 0 {
		s.inv.Purge(cache.FamilyInventory)
		s.audit(ctx, "init_day", fmt.Sprintf("day %s: %d records", day, inserted))
	}
	s.log.Debug("day initialization done", "day", day, "materials", len(mats), "inserted", inserted)
	return inserted, nil
}

// ApplyMovement правит одно поле движения и пересчитывает остаток.
// Полная замена записи, не дельта. Прошлые дни закрыты для правок.
func (s *Service) ApplyMovement(ctx context.Context, materialID uuid.UUID, day string, field Field, value float64) (*DailyRecord, error) {
	if day == "" {
		day = s.cal.Today()
	}
	if day < s.cal.Today() {
		return nil, fmt.Errorf("%w: day %s is closed for edits", ErrValidation, day)
	}
	if value < 0 {
		value = 0
	}

	rec, err := s.records.Get(ctx, materialID, day)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: no record for material %s on %s", ErrValidation, materialID, day)
	}

	if err := rec.SetField(field, value); err != nil {
		return nil, err
	}
	if err := s.records.Upsert(ctx, *rec); err != nil {
		return nil, err
	}

	s.inv.Purge(cache.FamilyInventory)
	s.audit(ctx, "movement", fmt.Sprintf("material %s day %s: %s=%g", materialID, day, field, value))
	return rec, nil
}

// AddMaterial заводит материал и его первую запись за день одной операцией.
// Начальный остаток и служит открытием — инициализация дня её не перепишет.
func (s *Service) AddMaterial(ctx context.Context, name, unit, baseUnit string, initialStock float64, day string) (*materials.Material, error) {
	name = strings.TrimSpace(name)
	if name == "" || unit == "" || baseUnit == "" {
		return nil, fmt.Errorf("%w: name, unit and baseUnit are required", ErrValidation)
	}
	if initialStock < 0 {
		return nil, fmt.Errorf("%w: initial stock must be >= 0", ErrValidation)
	}
	if day == "" {
		day = s.cal.Today()
	}
	createdAt, err := s.cal.StartOfDay(day)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	m := materials.Material{
		ID:        uuid.New(),
		Name:      name,
		Unit:      unit,
		BaseUnit:  baseUnit,
		CreatedAt: createdAt,
	}
	first := DailyRecord{MaterialID: m.ID, Day: day, Opening: initialStock, Remaining: initialStock}

	if err := s.records.InsertMaterial(ctx, m, first); err != nil {
		return nil, err
	}

	s.inv.Purge(cache.FamilyMaterials, cache.FamilyInventory)
	s.audit(ctx, "add_material", fmt.Sprintf("%s (%s), initial %g on %s", name, m.ID, initialStock, day))
	return &m, nil
}

// BatchDelete — мягкое удаление пачкой, всё или ничего. История записей не трогается.
func (s *Service) BatchDelete(ctx context.Context, ids []uuid.UUID, ts int64) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: empty id batch", ErrValidation)
	}
	if err := s.catalog.SoftDeleteBatch(ctx, ids, ts); err != nil {
		return err
	}
	s.inv.Purge(cache.FamilyMaterials, cache.FamilyInventory)
	s.audit(ctx, "delete_materials", fmt.Sprintf("%d materials", len(ids)))
	return nil
}

// ActiveMaterials — справочник живых материалов на день (по умолчанию сегодня).
func (s *Service) ActiveMaterials(ctx context.Context, day string) ([]materials.Material, error) {
	queryDay := day
	if queryDay == "" {
		queryDay = s.cal.Today()
	}
	endOfDay, err := s.cal.EndOfDay(queryDay)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	key := cache.Key{Family: cache.FamilyMaterials, Day: day}
	return cache.Fetch(ctx, s.cache, key, s.ttl.Catalog, func(ctx context.Context) ([]materials.Material, error) {
		return s.catalog.FindActiveAsOf(ctx, endOfDay)
	})
}

// MaterialsPage — страница справочника с поиском.
func (s *Service) MaterialsPage(ctx context.Context, search string, page, size int) ([]materials.Material, int, error) {
	page, size = clampPage(page, size)
	key := cache.Key{Family: cache.FamilyMaterials, Page: page, PageSize: size, Search: search}
	p, err := cache.Fetch(ctx, s.cache, key, s.ttl.Listing, func(ctx context.Context) (matPage, error) {
		items, total, err := s.catalog.Page(ctx, search, page, size)
		return matPage{Items: items, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return p.Items, p.Total, nil
}

// InventoryPage — страница журнала за день. Критичность остатка считается
// по текущему порогу поверх кэшированных строк.
func (s *Service) InventoryPage(ctx context.Context, day, search string, page, size int) ([]InventoryItem, int, error) {
	if day == "" {
		day = s.cal.Today()
	}
	// день проверяется до сборки ключа: произвольная строка в Day ломает
	// разделимость ключей
	if _, err := s.cal.EndOfDay(day); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	page, size = clampPage(page, size)

	key := cache.Key{Family: cache.FamilyInventory, Day: day, Page: page, PageSize: size, Search: search}
	p, err := cache.Fetch(ctx, s.cache, key, s.ttl.Listing, func(ctx context.Context) (invPage, error) {
		items, total, err := s.records.InventoryPage(ctx, day, search, page, size)
		return invPage{Items: items, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}

	threshold, err := s.thresholds.LowStockThreshold(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := make([]InventoryItem, 0, len(p.Items))
	for _, row := range p.Items {
		out = append(out, InventoryItem{InventoryRow: row, Critical: row.Record.Critical(threshold)})
	}
	return out, p.Total, nil
}

// Material — карточка материала, мимо кэша.
func (s *Service) Material(ctx context.Context, id uuid.UUID) (*materials.Material, error) {
	return s.catalog.GetByID(ctx, id)
}

// Record — одна запись журнала, мимо кэша (точечные чтения дешёвые и всегда свежие).
func (s *Service) Record(ctx context.Context, materialID uuid.UUID, day string) (*DailyRecord, error) {
	if day == "" {
		day = s.cal.Today()
	}
	return s.records.Get(ctx, materialID, day)
}

package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/stock-ledger/internal/cache"
	"github.com/Spok95/stock-ledger/internal/calendar"
	"github.com/Spok95/stock-ledger/internal/domain/audit"
	"github.com/Spok95/stock-ledger/internal/domain/ledger"
	"github.com/Spok95/stock-ledger/internal/domain/materials"
	"github.com/Spok95/stock-ledger/internal/infra/db"
)

type fakeStore struct {
	mats map[uuid.UUID]materials.Material
	recs map[string]ledger.DailyRecord

	rejectDelete  uuid.UUID // SoftDeleteBatch падает целиком, если встречает этот id
	dupOnInsert   bool      // Insert отдаёт ErrDuplicate (проигранная гонка инициализации)
	inventoryHits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mats: make(map[uuid.UUID]materials.Material),
		recs: make(map[string]ledger.DailyRecord),
	}
}

func recKey(id uuid.UUID, day string) string { return id.String() + "|" + day }

func (f *fakeStore) addMaterial(name string, createdAt int64) uuid.UUID {
	id := uuid.New()
	f.mats[id] = materials.Material{ID: id, Name: name, Unit: "bag", BaseUnit: "kg", CreatedAt: createdAt}
	return id
}

func (f *fakeStore) FindActiveAsOf(_ context.Context, endOfDay int64) ([]materials.Material, error) {
	var out []materials.Material
	for _, m := range f.mats {
		if m.ActiveAsOf(endOfDay) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*materials.Material, error) {
	if m, ok := f.mats[id]; ok {
		return &m, nil
	}
	return nil, nil
}

func (f *fakeStore) Page(_ context.Context, search string, page, size int) ([]materials.Material, int, error) {
	var out []materials.Material
	for _, m := range f.mats {
		if m.DeletedAt == nil && strings.Contains(strings.ToLower(m.Name), strings.ToLower(search)) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (f *fakeStore) SoftDeleteBatch(_ context.Context, ids []uuid.UUID, ts int64) error {
	for _, id := range ids {
		if id == f.rejectDelete {
			return fmt.Errorf("constraint failure on %s", id)
		}
		if _, ok := f.mats[id]; !ok {
			return fmt.Errorf("unknown id %s", id)
		}
	}
	for _, id := range ids {
		m := f.mats[id]
		m.DeletedAt = &ts
		f.mats[id] = m
	}
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID, day string) (*ledger.DailyRecord, error) {
	if r, ok := f.recs[recKey(id, day)]; ok {
		return &r, nil
	}
	return nil, nil
}

func (f *fakeStore) LatestBefore(_ context.Context, id uuid.UUID, day string) (*ledger.DailyRecord, error) {
	var best *ledger.DailyRecord
	for _, r := range f.recs {
		if r.MaterialID != id || r.Day >= day {
			continue
		}
		if best == nil || r.Day > best.Day {
			rr := r
			best = &rr
		}
	}
	return best, nil
}

func (f *fakeStore) Insert(_ context.Context, rec ledger.DailyRecord) error {
	if f.dupOnInsert {
		return fmt.Errorf("%w: daily_records_pkey", db.ErrDuplicate)
	}
	k := recKey(rec.MaterialID, rec.Day)
	if _, ok := f.recs[k]; ok {
		return fmt.Errorf("%w: daily_records_pkey", db.ErrDuplicate)
	}
	f.recs[k] = rec
	return nil
}

func (f *fakeStore) Upsert(_ context.Context, rec ledger.DailyRecord) error {
	f.recs[recKey(rec.MaterialID, rec.Day)] = rec
	return nil
}

func (f *fakeStore) InsertMaterial(_ context.Context, m materials.Material, first ledger.DailyRecord) error {
	if _, ok := f.mats[m.ID]; ok {
		return fmt.Errorf("%w: materials_pkey", db.ErrDuplicate)
	}
	f.mats[m.ID] = m
	f.recs[recKey(first.MaterialID, first.Day)] = first
	return nil
}

func (f *fakeStore) InventoryPage(_ context.Context, day, search string, _, _ int) ([]ledger.InventoryRow, int, error) {
	f.inventoryHits++
	var out []ledger.InventoryRow
	for _, r := range f.recs {
		if r.Day != day {
			continue
		}
		m := f.mats[r.MaterialID]
		if !strings.Contains(strings.ToLower(m.Name), strings.ToLower(search)) {
			continue
		}
		out = append(out, ledger.InventoryRow{Material: m, Record: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Material.Name < out[j].Material.Name })
	return out, len(out), nil
}

type fixedThreshold float64

func (t fixedThreshold) LowStockThreshold(context.Context) (float64, error) {
	return float64(t), nil
}

type fakeAudit struct{ actions []string }

func (a *fakeAudit) Record(_ context.Context, e audit.Entry) error {
	a.actions = append(a.actions, e.Action)
	return nil
}

func newTestService(f *fakeStore, today string, threshold float64) (*ledger.Service, *cache.Memory, *fakeAudit) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := cache.NewMemory(nil)
	remote := cache.NewRemote(nil, 0, log)
	aud := &fakeAudit{}
	svc := ledger.NewService(
		f, f, fixedThreshold(threshold), aud,
		cache.NewTiered(mem, remote),
		cache.NewInvalidator(mem, remote, log),
		calendar.NewFixed(today),
		ledger.TTL{Catalog: time.Hour, Listing: 5 * time.Minute},
		log,
	)
	return svc, mem, aud
}

func mustMillis(t *testing.T, cal calendar.Calendar, day string) int64 {
	t.Helper()
	ms, err := cal.StartOfDay(day)
	require.NoError(t, err)
	return ms
}

func TestInitializeDateCarryForwardOverGap(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	id := f.addMaterial("Cement", mustMillis(t, cal, "2024-03-01"))
	f.recs[recKey(id, "2024-03-01")] = ledger.DailyRecord{
		MaterialID: id, Day: "2024-03-01", Opening: 40, Inbound: 2, Remaining: 42,
	}

	svc, _, _ := newTestService(f, "2024-03-06", 10)
	inserted, err := svc.InitializeDate(context.Background(), "2024-03-06")
	require.NoError(t, err)
	require.Equal(t, 1, inserted)

	rec, err := svc.Record(context.Background(), id, "2024-03-06")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, 42.0, rec.Opening)
	require.Equal(t, 42.0, rec.Remaining)
	require.Zero(t, rec.Inbound)
	require.Zero(t, rec.WorkshopOut)
	require.Zero(t, rec.StoreOut)
}

func TestInitializeDateIdempotent(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	id := f.addMaterial("Cement", mustMillis(t, cal, "2024-03-01"))
	f.recs[recKey(id, "2024-03-05")] = ledger.DailyRecord{MaterialID: id, Day: "2024-03-05", Opening: 5, Remaining: 5}

	svc, _, _ := newTestService(f, "2024-03-06", 10)
	ctx := context.Background()

	inserted, err := svc.InitializeDate(ctx, "2024-03-06")
	require.NoError(t, err)
	require.Equal(t, 1, inserted)

	// правим запись и запускаем инициализацию повторно — правка не теряется
	_, err = svc.ApplyMovement(ctx, id, "2024-03-06", ledger.FieldInbound, 3)
	require.NoError(t, err)

	inserted, err = svc.InitializeDate(ctx, "2024-03-06")
	require.NoError(t, err)
	require.Zero(t, inserted)

	rec, err := svc.Record(ctx, id, "2024-03-06")
	require.NoError(t, err)
	require.Equal(t, 3.0, rec.Inbound)
	require.Equal(t, 8.0, rec.Remaining)
}

func TestInitializeDateNoHistoryOpensAtZero(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	id := f.addMaterial("Sand", mustMillis(t, cal, "2024-03-01"))

	svc, _, _ := newTestService(f, "2024-03-06", 10)
	_, err := svc.InitializeDate(context.Background(), "2024-03-06")
	require.NoError(t, err)

	rec, err := svc.Record(context.Background(), id, "2024-03-06")
	require.NoError(t, err)
	require.Zero(t, rec.Opening)
	require.Zero(t, rec.Remaining)
}

func TestInitializeDateSkipsMaterialsCreatedLater(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-10")
	f.addMaterial("Future", mustMillis(t, cal, "2024-03-08"))

	svc, _, _ := newTestService(f, "2024-03-10", 10)
	inserted, err := svc.InitializeDate(context.Background(), "2024-03-06")
	require.NoError(t, err)
	require.Zero(t, inserted)
}

func TestInitializeDateDuplicateInsertIsBenign(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	f.addMaterial("Cement", mustMillis(t, cal, "2024-03-01"))
	f.dupOnInsert = true

	svc, _, _ := newTestService(f, "2024-03-06", 10)
	inserted, err := svc.InitializeDate(context.Background(), "2024-03-06")
	require.NoError(t, err)
	require.Zero(t, inserted)
}

func TestAddMaterialCreatesFirstRecordAndInitLeavesIt(t *testing.T) {
	f := newFakeStore()
	svc, _, _ := newTestService(f, "2024-03-06", 10)
	ctx := context.Background()

	m, err := svc.AddMaterial(ctx, "Flour", "bag", "kg", 7, "2024-03-06")
	require.NoError(t, err)

	rec, err := svc.Record(ctx, m.ID, "2024-03-06")
	require.NoError(t, err)
	require.Equal(t, 7.0, rec.Opening)
	require.Equal(t, 7.0, rec.Remaining)

	inserted, err := svc.InitializeDate(ctx, "2024-03-06")
	require.NoError(t, err)
	require.Zero(t, inserted)

	after, err := svc.Record(ctx, m.ID, "2024-03-06")
	require.NoError(t, err)
	require.Equal(t, *rec, *after)
}

func TestAddMaterialValidation(t *testing.T) {
	f := newFakeStore()
	svc, _, _ := newTestService(f, "2024-03-06", 10)

	_, err := svc.AddMaterial(context.Background(), "", "bag", "kg", 1, "")
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.AddMaterial(context.Background(), "Flour", "bag", "kg", -1, "")
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestApplyMovementFlourScenario(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	id := f.addMaterial("Flour", mustMillis(t, cal, "2024-03-01"))
	f.recs[recKey(id, "2024-03-06")] = func() ledger.DailyRecord {
		r := ledger.DailyRecord{MaterialID: id, Day: "2024-03-06", Opening: 20, Inbound: 5, WorkshopOut: 12, StoreOut: 3}
		r.Recompute()
		return r
	}()

	svc, _, _ := newTestService(f, "2024-03-06", 10)
	ctx := context.Background()

	rec, err := svc.Record(ctx, id, "2024-03-06")
	require.NoError(t, err)
	require.Equal(t, 10.0, rec.Remaining)
	require.False(t, rec.Critical(10)) // ровно на пороге — ещё не критично

	rec, err = svc.ApplyMovement(ctx, id, "2024-03-06", ledger.FieldWorkshopOut, 15)
	require.NoError(t, err)
	require.Equal(t, 5.0, rec.Remaining)
	require.True(t, rec.Critical(10))
}

func TestApplyMovementClampsNegative(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	id := f.addMaterial("Flour", mustMillis(t, cal, "2024-03-01"))
	f.recs[recKey(id, "2024-03-06")] = ledger.DailyRecord{MaterialID: id, Day: "2024-03-06", Opening: 9, Remaining: 9}

	svc, _, _ := newTestService(f, "2024-03-06", 10)
	rec, err := svc.ApplyMovement(context.Background(), id, "2024-03-06", ledger.FieldInbound, -4)
	require.NoError(t, err)
	require.Zero(t, rec.Inbound)
	require.Equal(t, 9.0, rec.Remaining)
}

func TestApplyMovementRejectsPastDay(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	id := f.addMaterial("Flour", mustMillis(t, cal, "2024-03-01"))
	f.recs[recKey(id, "2024-03-05")] = ledger.DailyRecord{MaterialID: id, Day: "2024-03-05", Opening: 9, Remaining: 9}

	svc, _, _ := newTestService(f, "2024-03-06", 10)
	_, err := svc.ApplyMovement(context.Background(), id, "2024-03-05", ledger.FieldInbound, 1)
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestApplyMovementUnknownRecord(t *testing.T) {
	f := newFakeStore()
	svc, _, _ := newTestService(f, "2024-03-06", 10)
	_, err := svc.ApplyMovement(context.Background(), uuid.New(), "2024-03-06", ledger.FieldInbound, 1)
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestBatchDeleteAllOrNothing(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	id1 := f.addMaterial("Cement", mustMillis(t, cal, "2024-03-01"))
	id2 := f.addMaterial("Sand", mustMillis(t, cal, "2024-03-01"))
	f.rejectDelete = id2

	svc, _, _ := newTestService(f, "2024-03-06", 10)
	err := svc.BatchDelete(context.Background(), []uuid.UUID{id1, id2}, 1709700000000)
	require.Error(t, err)
	require.Nil(t, f.mats[id1].DeletedAt)
}

func TestBatchDeleteEmptyBatch(t *testing.T) {
	f := newFakeStore()
	svc, _, _ := newTestService(f, "2024-03-06", 10)
	err := svc.BatchDelete(context.Background(), nil, 1709700000000)
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestInventoryPageCacheCoherenceAfterMovement(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	id := f.addMaterial("Flour", mustMillis(t, cal, "2024-03-01"))
	f.recs[recKey(id, "2024-03-06")] = ledger.DailyRecord{MaterialID: id, Day: "2024-03-06", Opening: 20, Remaining: 20}

	svc, _, _ := newTestService(f, "2024-03-06", 10)
	ctx := context.Background()

	items, _, err := svc.InventoryPage(ctx, "2024-03-06", "", 1, 20)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 20.0, items[0].Record.Remaining)

	// повторное чтение идёт из кэша
	_, _, err = svc.InventoryPage(ctx, "2024-03-06", "", 1, 20)
	require.NoError(t, err)
	require.Equal(t, 1, f.inventoryHits)

	_, err = svc.ApplyMovement(ctx, id, "2024-03-06", ledger.FieldStoreOut, 8)
	require.NoError(t, err)

	// после мутации локальный тир вычищен синхронно — читаем свежие данные
	items, _, err = svc.InventoryPage(ctx, "2024-03-06", "", 1, 20)
	require.NoError(t, err)
	require.Equal(t, 12.0, items[0].Record.Remaining)
	require.Equal(t, 2, f.inventoryHits)
}

func TestInventoryPageCriticalByThreshold(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	low := f.addMaterial("Flour", mustMillis(t, cal, "2024-03-01"))
	ok := f.addMaterial("Sand", mustMillis(t, cal, "2024-03-01"))
	f.recs[recKey(low, "2024-03-06")] = ledger.DailyRecord{MaterialID: low, Day: "2024-03-06", Opening: 9, Remaining: 9}
	f.recs[recKey(ok, "2024-03-06")] = ledger.DailyRecord{MaterialID: ok, Day: "2024-03-06", Opening: 10, Remaining: 10}

	svc, _, _ := newTestService(f, "2024-03-06", 10)
	items, total, err := svc.InventoryPage(context.Background(), "2024-03-06", "", 1, 20)
	require.NoError(t, err)
	require.Equal(t, 2, total)

	byName := map[string]bool{}
	for _, it := range items {
		byName[it.Material.Name] = it.Critical
	}
	require.True(t, byName["Flour"])
	require.False(t, byName["Sand"])
}

func TestBalanceEquationHeldAfterEveryEdit(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	id := f.addMaterial("Flour", mustMillis(t, cal, "2024-03-01"))
	f.recs[recKey(id, "2024-03-06")] = ledger.DailyRecord{MaterialID: id, Day: "2024-03-06", Opening: 100, Remaining: 100}

	svc, _, _ := newTestService(f, "2024-03-06", 10)
	ctx := context.Background()

	edits := []struct {
		field ledger.Field
		value float64
	}{
		{ledger.FieldInbound, 5},
		{ledger.FieldWorkshopOut, 30},
		{ledger.FieldStoreOut, 12.5},
		{ledger.FieldInbound, 0},
		{ledger.FieldWorkshopOut, 1},
	}
	for _, e := range edits {
		rec, err := svc.ApplyMovement(ctx, id, "2024-03-06", e.field, e.value)
		require.NoError(t, err)
		require.Equal(t, rec.Opening+rec.Inbound-rec.WorkshopOut-rec.StoreOut, rec.Remaining)
	}
}

func TestInitializeDateRejectsBadDay(t *testing.T) {
	f := newFakeStore()
	svc, _, _ := newTestService(f, "2024-03-06", 10)
	_, err := svc.InitializeDate(context.Background(), "not-a-day")
	require.ErrorIs(t, err, ledger.ErrValidation)
	require.False(t, errors.Is(err, db.ErrDuplicate))
}

// День с разделителем ключа склеивал бы два разных запроса в один ключ кэша:
// {day "2024-01-01|2", page 3} и {day "2024-01-01", page 2, search "20|"}
// дают одну строку. Такой день отбрасывается до обращения к кэшу.
func TestInventoryPageRejectsMalformedDay(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	id := f.addMaterial("Flour", mustMillis(t, cal, "2024-03-01"))
	f.recs[recKey(id, "2024-03-06")] = ledger.DailyRecord{MaterialID: id, Day: "2024-03-06", Opening: 9, Remaining: 9}

	svc, mem, _ := newTestService(f, "2024-03-06", 10)
	_, _, err := svc.InventoryPage(context.Background(), "2024-01-01|2", "", 3, 20)
	require.ErrorIs(t, err, ledger.ErrValidation)
	require.Zero(t, mem.Len())
	require.Zero(t, f.inventoryHits)
}

func TestMutationsRecordAuditEntries(t *testing.T) {
	f := newFakeStore()
	cal := calendar.NewFixed("2024-03-06")
	id := f.addMaterial("Cement", mustMillis(t, cal, "2024-03-01"))

	svc, _, aud := newTestService(f, "2024-03-06", 10)
	ctx := context.Background()

	_, err := svc.InitializeDate(ctx, "2024-03-06")
	require.NoError(t, err)

	_, err = svc.ApplyMovement(ctx, id, "2024-03-06", ledger.FieldInbound, 4)
	require.NoError(t, err)

	m, err := svc.AddMaterial(ctx, "Flour", "bag", "kg", 7, "2024-03-06")
	require.NoError(t, err)

	err = svc.BatchDelete(ctx, []uuid.UUID{m.ID}, mustMillis(t, cal, "2024-03-06"))
	require.NoError(t, err)

	require.Equal(t, []string{"init_day", "movement", "add_material", "delete_materials"}, aud.actions)

	// повторная инициализация ничего не вставляет — и следа не оставляет
	_, err = svc.InitializeDate(ctx, "2024-03-06")
	require.NoError(t, err)
	require.Len(t, aud.actions, 4)
}

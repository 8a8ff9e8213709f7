package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/Spok95/stock-ledger/internal/cache"
	"github.com/Spok95/stock-ledger/internal/domain/audit"
	"github.com/Spok95/stock-ledger/internal/domain/ledger"
	"github.com/Spok95/stock-ledger/internal/domain/settings"
)

// API — тонкий JSON-слой над сервисами. Рендеринг и авторизация живут снаружи.
type API struct {
	Ledger   *ledger.Service
	Settings *settings.Service
	Audit    *audit.Service
	Log      *slog.Logger
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/materials/active", a.activeMaterials)
	mux.HandleFunc("GET /api/materials/{id}", a.materialByID)
	mux.HandleFunc("GET /api/materials", a.materialsPage)
	mux.HandleFunc("POST /api/materials", a.addMaterial)
	mux.HandleFunc("POST /api/materials/delete", a.batchDelete)
	mux.HandleFunc("GET /api/inventory", a.inventoryPage)
	mux.HandleFunc("POST /api/inventory/movement", a.applyMovement)
	mux.HandleFunc("POST /api/inventory/init", a.initializeDate)
	mux.HandleFunc("GET /api/settings", a.getSettings)
	mux.HandleFunc("POST /api/settings", a.updateSetting)
	mux.HandleFunc("GET /api/audit", a.auditPage)
	mux.HandleFunc("POST /api/audit", a.recordAudit)
}

func (a *API) reply(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": data})
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ledger.ErrValidation) || errors.Is(err, settings.ErrBadValue) {
		status = http.StatusBadRequest
	} else {
		a.Log.Error("api request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": err.Error()})
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	return page, size
}

// ?refresh=1 — принудительное обновление мимо обоих тиров кэша
func maybeBypass(r *http.Request) *http.Request {
	if r.URL.Query().Get("refresh") == "1" {
		return r.WithContext(cache.WithBypass(r.Context()))
	}
	return r
}

func (a *API) activeMaterials(w http.ResponseWriter, r *http.Request) {
	r = maybeBypass(r)
	items, err := a.Ledger.ActiveMaterials(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.reply(w, items)
}

func (a *API) materialByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.fail(w, ledger.ErrValidation)
		return
	}
	m, err := a.Ledger.Material(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	if m == nil {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "not found"})
		return
	}
	a.reply(w, m)
}

func (a *API) materialsPage(w http.ResponseWriter, r *http.Request) {
	r = maybeBypass(r)
	page, size := pageParams(r)
	items, total, err := a.Ledger.MaterialsPage(r.Context(), r.URL.Query().Get("q"), page, size)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.reply(w, map[string]any{"items": items, "total": total})
}

func (a *API) addMaterial(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string  `json:"name"`
		Unit         string  `json:"unit"`
		BaseUnit     string  `json:"baseUnit"`
		InitialStock float64 `json:"initialStock"`
		Date         string  `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, ledger.ErrValidation)
		return
	}
	m, err := a.Ledger.AddMaterial(r.Context(), req.Name, req.Unit, req.BaseUnit, req.InitialStock, req.Date)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.reply(w, m)
}

func (a *API) batchDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs       []uuid.UUID `json:"ids"`
		Timestamp int64       `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, ledger.ErrValidation)
		return
	}
	if err := a.Ledger.BatchDelete(r.Context(), req.IDs, req.Timestamp); err != nil {
		a.fail(w, err)
		return
	}
	a.reply(w, nil)
}

func (a *API) inventoryPage(w http.ResponseWriter, r *http.Request) {
	r = maybeBypass(r)
	page, size := pageParams(r)
	items, total, err := a.Ledger.InventoryPage(r.Context(), r.URL.Query().Get("date"), r.URL.Query().Get("q"), page, size)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.reply(w, map[string]any{"items": items, "total": total})
}

func (a *API) applyMovement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaterialID uuid.UUID `json:"materialId"`
		Date       string    `json:"date"`
		Field      string    `json:"field"`
		Value      float64   `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, ledger.ErrValidation)
		return
	}
	rec, err := a.Ledger.ApplyMovement(r.Context(), req.MaterialID, req.Date, ledger.Field(req.Field), req.Value)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.reply(w, rec)
}

func (a *API) initializeDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, ledger.ErrValidation)
		return
	}
	inserted, err := a.Ledger.InitializeDate(r.Context(), req.Date)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.reply(w, map[string]any{"inserted": inserted})
}

func (a *API) getSettings(w http.ResponseWriter, r *http.Request) {
	r = maybeBypass(r)
	all, err := a.Settings.All(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.reply(w, all)
}

func (a *API) updateSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, settings.ErrBadValue)
		return
	}
	if err := a.Settings.Update(r.Context(), req.Name, req.Value); err != nil {
		a.fail(w, err)
		return
	}
	a.reply(w, nil)
}

func (a *API) auditPage(w http.ResponseWriter, r *http.Request) {
	r = maybeBypass(r)
	page, size := pageParams(r)
	items, total, err := a.Audit.Page(r.Context(), page, size)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.reply(w, map[string]any{"items": items, "total": total})
}

func (a *API) recordAudit(w http.ResponseWriter, r *http.Request) {
	var e audit.Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		a.fail(w, ledger.ErrValidation)
		return
	}
	if err := a.Audit.Record(r.Context(), e); err != nil {
		a.fail(w, err)
		return
	}
	a.reply(w, nil)
}

package cache

import (
	"strconv"
	"strings"
)

// Family — семейство сущностей, по нему же гранулируется инвалидация.
type Family string

const (
	FamilyMaterials Family = "materials"
	FamilyInventory Family = "inventory"
	FamilySettings  Family = "settings"
	FamilyAudit     Family = "audit"
)

const sep = "|"

// Key — типизированный ключ запроса. Одинаковые запросы дают одинаковую строку,
// разные — разные: поисковая строка идёт последней, остальные поля sep не содержат.
type Key struct {
	Family   Family
	Day      string // "" — текущий день ("current")
	Page     int
	PageSize int
	Search   string
}

func (k Key) String() string {
	day := k.Day
	if day == "" {
		day = "current"
	}
	search := strings.ToLower(strings.TrimSpace(k.Search))
	return strings.Join([]string{
		string(k.Family),
		day,
		strconv.Itoa(k.Page),
		strconv.Itoa(k.PageSize),
		search,
	}, sep)
}

func FamilyPrefix(f Family) string { return string(f) + sep }

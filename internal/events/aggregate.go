package events

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Key identifies one aggregated receipt.
type Key struct {
	Entity string
	Nature string
	Date   string
}

// Totals are the running sums of one key.
type Totals struct {
	Gross    decimal.Decimal
	Base     decimal.Decimal
	Withheld decimal.Decimal
}

// Add returns t with the amounts of o added.
func (t Totals) Add(o Totals) Totals {
	return Totals{
		Gross:    t.Gross.Add(o.Gross),
		Base:     t.Base.Add(o.Base),
		Withheld: t.Withheld.Add(o.Withheld),
	}
}

type entityNature struct {
	entity string
	nature string
}

// Aggregator sums receipts by (entity, nature, date). Entities and natures
// keep first-seen order; dates are sorted ascending on read.
type Aggregator struct {
	entities []string
	natures  map[string][]string
	dates    map[entityNature][]string
	totals   map[Key]Totals
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		natures: make(map[string][]string),
		dates:   make(map[entityNature][]string),
		totals:  make(map[Key]Totals),
	}
}

// Add accumulates amounts under k.
func (a *Aggregator) Add(k Key, amounts Totals) {
	if _, ok := a.natures[k.Entity]; !ok {
		a.entities = append(a.entities, k.Entity)
		a.natures[k.Entity] = nil
	}

	en := entityNature{entity: k.Entity, nature: k.Nature}
	if _, ok := a.dates[en]; !ok {
		a.natures[k.Entity] = append(a.natures[k.Entity], k.Nature)
		a.dates[en] = nil
	}

	current, ok := a.totals[k]
	if !ok {
		a.dates[en] = append(a.dates[en], k.Date)
	}
	a.totals[k] = current.Add(amounts)
}

// Entities returns the entities in first-seen order.
func (a *Aggregator) Entities() []string {
	return append([]string(nil), a.entities...)
}

// Natures returns the natures of entity in first-seen order.
func (a *Aggregator) Natures(entity string) []string {
	return append([]string(nil), a.natures[entity]...)
}

// Dates returns the dates of (entity, nature) in ascending order.
func (a *Aggregator) Dates(entity, nature string) []string {
	dates := append([]string(nil), a.dates[entityNature{entity: entity, nature: nature}]...)
	sort.Strings(dates)
	return dates
}

// Totals returns the sums stored under k.
func (a *Aggregator) Totals(k Key) Totals {
	return a.totals[k]
}

// Len is the number of distinct keys.
func (a *Aggregator) Len() int {
	return len(a.totals)
}

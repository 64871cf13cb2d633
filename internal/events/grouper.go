package events

import (
	"ms-roster/internal/models"
	"sort"
	"strings"
	"time"
)

type MonthGroup struct {
	Month  time.Month     `json:"month"`
	Events []models.Event `json:"events"`
}

type YearGroup struct {
	Year   int          `json:"year"`
	Months []MonthGroup `json:"months"`
}

// Index partitions events into pinned, dated and undated buckets. Every event lands in exactly one bucket.
type Index struct {
	Pinned  []models.Event `json:"pinned"`
	Years   []YearGroup    `json:"years"`
	Undated []models.Event `json:"undated"`
}

// Count returns the number of events across all buckets.
func (idx Index) Count() int {
	n := len(idx.Pinned) + len(idx.Undated)
	for _, y := range idx.Years {
		for _, m := range y.Months {
			n += len(m.Events)
		}
	}
	return n
}

func Group(list []models.Event) Index {
	idx := Index{Pinned: []models.Event{}, Years: []YearGroup{}, Undated: []models.Event{}}

	type ym struct {
		year  int
		month time.Month
	}
	byMonth := make(map[ym][]models.Event)

	for _, e := range list {
		switch {
		case e.IsPinned:
			idx.Pinned = append(idx.Pinned, e)
		case e.EventDate == nil:
			idx.Undated = append(idx.Undated, e)
		default:
			d := e.EventDate.UTC()
			k := ym{d.Year(), d.Month()}
			byMonth[k] = append(byMonth[k], e)
		}
	}

	sort.SliceStable(idx.Pinned, func(i, j int) bool {
		a, b := idx.Pinned[i], idx.Pinned[j]
		switch {
		case a.EventDate == nil && b.EventDate == nil:
			return lessName(a, b)
		case a.EventDate == nil:
			return false
		case b.EventDate == nil:
			return true
		case !a.EventDate.Equal(*b.EventDate):
			return a.EventDate.After(*b.EventDate)
		}
		return lessName(a, b)
	})

	sort.SliceStable(idx.Undated, func(i, j int) bool {
		return lessName(idx.Undated[i], idx.Undated[j])
	})

	keys := make([]ym, 0, len(byMonth))
	for k := range byMonth {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year > keys[j].year
		}
		return keys[i].month > keys[j].month
	})

	for _, k := range keys {
		evs := byMonth[k]
		sort.SliceStable(evs, func(i, j int) bool {
			if !evs[i].EventDate.Equal(*evs[j].EventDate) {
				return evs[i].EventDate.Before(*evs[j].EventDate)
			}
			return lessName(evs[i], evs[j])
		})
		if n := len(idx.Years); n == 0 || idx.Years[n-1].Year != k.year {
			idx.Years = append(idx.Years, YearGroup{Year: k.year})
		}
		y := &idx.Years[len(idx.Years)-1]
		y.Months = append(y.Months, MonthGroup{Month: k.month, Events: evs})
	}

	return idx
}

func lessName(a, b models.Event) bool {
	an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if an != bn {
		return an < bn
	}
	return a.ID < b.ID
}

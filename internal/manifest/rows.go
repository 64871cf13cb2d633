package manifest

import (
	"fmt"
	"ms-roster/internal/fields"
	"ms-roster/internal/models"
	"sort"
	"strconv"
	"strings"
)

type Source string

const (
	SourceOrder  Source = "ORDER"
	SourceManual Source = "MANUAL"
)

type Column struct {
	Key       string `json:"key"`
	Header    string `json:"header"`
	IsDynamic bool   `json:"isDynamic"`
}

type Row struct {
	Number          int               `json:"number"`
	Source          Source            `json:"source"`
	OrderID         string            `json:"orderId,omitempty"`
	ManualBookingID string            `json:"manualBookingId,omitempty"`
	RoomIndex       *int              `json:"roomIndex,omitempty"`
	Seat            int               `json:"seat"`
	LastName        string            `json:"lastName"`
	FirstName       string            `json:"firstName"`
	Values          map[string]string `json:"values"`
	IsConfirmed     bool              `json:"isConfirmed"`
	NewGroup        bool              `json:"newGroup"`
	GroupLabel      string            `json:"groupLabel,omitempty"`
}

// Group is a contiguous run of rows sharing (orderId, roomIndex), or the manual booking block.
type Group struct {
	Label     string `json:"label"`
	OrderID   string `json:"orderId,omitempty"`
	RoomIndex *int   `json:"roomIndex,omitempty"`
	Manual    bool   `json:"manual"`
	FirstRow  int    `json:"firstRow"`
	RowCount  int    `json:"rowCount"`
}

type Totals struct {
	Rows        int `json:"rows"`
	Confirmed   int `json:"confirmed"`
	Unconfirmed int `json:"unconfirmed"`
	FromOrders  int `json:"fromOrders"`
	FromManual  int `json:"fromManual"`
}

type Manifest struct {
	Event         models.Event `json:"event"`
	DisplayMode   DisplayMode  `json:"displayMode"`
	SeatBreakdown bool         `json:"seatBreakdown"`
	Columns       []Column     `json:"columns"`
	Rows          []Row        `json:"rows"`
	Groups        []Group      `json:"groups"`
	Totals        Totals       `json:"totals"`
}

// Cells flattens the manifest into one string slice per row, in column order. Renderers consume this.
func (m *Manifest) Cells() [][]string {
	out := make([][]string, len(m.Rows))
	for i, r := range m.Rows {
		line := make([]string, len(m.Columns))
		for j, c := range m.Columns {
			switch c.Key {
			case ColumnRowNumber:
				line[j] = strconv.Itoa(r.Number)
			case ColumnLastName:
				line[j] = r.LastName
			case ColumnFirstName:
				line[j] = r.FirstName
			default:
				line[j] = r.Values[c.Key]
			}
		}
		out[i] = line
	}
	return out
}

// Headers returns the column headers in order.
func (m *Manifest) Headers() []string {
	out := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		out[i] = c.Header
	}
	return out
}

func (m *Manifest) finish(rows []Row) {
	var cur *Group
	for i := range rows {
		r := &rows[i]
		r.Number = i + 1

		start := i == 0 || !sameGroup(rows[i-1], *r)
		r.NewGroup = start
		if start {
			g := Group{
				Label:     groupLabel(*r),
				OrderID:   r.OrderID,
				RoomIndex: r.RoomIndex,
				Manual:    r.Source == SourceManual,
				FirstRow:  i,
			}
			m.Groups = append(m.Groups, g)
			cur = &m.Groups[len(m.Groups)-1]
			if m.DisplayMode == Headers {
				r.GroupLabel = g.Label
			}
		}
		cur.RowCount++

		m.Totals.Rows++
		if r.IsConfirmed {
			m.Totals.Confirmed++
		} else {
			m.Totals.Unconfirmed++
		}
		if r.Source == SourceManual {
			m.Totals.FromManual++
		} else {
			m.Totals.FromOrders++
		}
	}
	if rows != nil {
		m.Rows = rows
	}
}

func sameGroup(a, b Row) bool {
	if a.Source != b.Source || a.OrderID != b.OrderID {
		return false
	}
	if a.RoomIndex == nil || b.RoomIndex == nil {
		return a.RoomIndex == nil && b.RoomIndex == nil
	}
	return *a.RoomIndex == *b.RoomIndex
}

func groupLabel(r Row) string {
	if r.Source == SourceManual {
		return "Manual bookings"
	}
	if r.RoomIndex != nil {
		return fmt.Sprintf("Order #%s · Room %d", r.OrderID, *r.RoomIndex)
	}
	return "Order #" + r.OrderID
}

// expander turns line items and manual bookings into rows.
type expander struct {
	resolver  *fields.Resolver
	breakdown bool
	columns   []Column
}

func (x expander) itemRows(o models.OrderRecord, li models.LineItem) []Row {
	seats := x.seatValues(li.DynamicFields)
	qty := li.Quantity
	if qty < 1 {
		qty = 1
	}
	rows := make([]Row, 0, qty)
	for n := 1; n <= qty; n++ {
		vals := x.pick(seats, n)
		r := Row{
			Source:      SourceOrder,
			OrderID:     o.ExternalID,
			RoomIndex:   li.RoomIndex,
			Seat:        n,
			LastName:    nameFrom(vals, lastNameKeys),
			FirstName:   nameFrom(vals, firstNameKeys),
			Values:      x.columnValues(vals),
			IsConfirmed: li.Confirmed,
		}
		if r.LastName == "" && r.FirstName == "" {
			r.LastName = o.Billing.LastName
			r.FirstName = o.Billing.FirstName
		}
		rows = append(rows, r)
	}
	return rows
}

func (x expander) manualRows(mb models.ManualBooking) []Row {
	seats := x.seatValues(mb.DynamicFields)
	vals := x.merge(seats[0], seats[1])
	count := mb.ParticipantCount
	if count < 1 {
		count = 1
	}
	rows := make([]Row, 0, count)
	for n := 1; n <= count; n++ {
		rows = append(rows, Row{
			Source:          SourceManual,
			ManualBookingID: mb.ID,
			Seat:            n,
			LastName:        mb.Contact.LastName,
			FirstName:       mb.Contact.FirstName,
			Values:          x.columnValues(vals),
			IsConfirmed:     true,
		})
	}
	return rows
}

// seatValues indexes raw dynamic fields by seat (0 = shared) and canonical key. When several raw keys resolve
// to the same canonical key, the one spelled like the canonical key wins, then the alphabetically first.
func (x expander) seatValues(raw map[string]string) map[int]map[string]string {
	type entry struct {
		seat      int
		canonical string
		raw       string
		value     string
		exact     bool
	}
	entries := make([]entry, 0, len(raw))
	for k, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		base, seat := fields.SplitSeatKey(k)
		canonical, err := x.resolver.Resolve(base)
		if err != nil {
			canonical = base
		}
		entries = append(entries, entry{seat: seat, canonical: canonical, raw: k, value: v, exact: base == canonical})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].exact != entries[j].exact {
			return entries[i].exact
		}
		return entries[i].raw < entries[j].raw
	})

	out := make(map[int]map[string]string)
	for _, e := range entries {
		m, ok := out[e.seat]
		if !ok {
			m = make(map[string]string)
			out[e.seat] = m
		}
		if _, taken := m[e.canonical]; !taken {
			m[e.canonical] = e.value
		}
	}
	return out
}

// pick returns the values of seat n. With breakdown the seat's own values win over shared ones;
// without it every row shows the shared values, completed from the first seat.
func (x expander) pick(seats map[int]map[string]string, n int) map[string]string {
	if x.breakdown {
		return x.merge(seats[n], seats[0])
	}
	return x.merge(seats[0], seats[1])
}

func (x expander) merge(primary, fallback map[string]string) map[string]string {
	out := make(map[string]string, len(primary)+len(fallback))
	for k, v := range fallback {
		out[k] = v
	}
	for k, v := range primary {
		out[k] = v
	}
	return out
}

func (x expander) columnValues(vals map[string]string) map[string]string {
	out := make(map[string]string)
	for _, c := range x.columns {
		if c.IsDynamic {
			out[c.Key] = vals[c.Key]
		}
	}
	return out
}

func nameFrom(vals map[string]string, candidates []string) string {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, want := range candidates {
		for _, k := range keys {
			if strings.TrimPrefix(strings.ToLower(k), "pa_") == want && vals[k] != "" {
				return vals[k]
			}
		}
	}
	return ""
}

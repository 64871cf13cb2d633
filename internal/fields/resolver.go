package fields

import (
	"ms-roster/internal/apperr"
	"ms-roster/internal/models"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Resolver is an immutable snapshot of the field catalog.
type Resolver struct {
	defs map[string]models.FieldDefinition
}

func NewResolver(list []models.FieldDefinition) *Resolver {
	defs := make(map[string]models.FieldDefinition, len(list))
	for _, f := range list {
		defs[f.Key] = f
	}
	return &Resolver{defs: defs}
}

func (r *Resolver) Field(key string) (models.FieldDefinition, bool) {
	f, ok := r.defs[key]
	return f, ok
}

// Resolve follows aliasOf to a fixed point. Keys outside the catalog resolve to themselves.
func (r *Resolver) Resolve(key string) (string, error) {
	visited := map[string]bool{key: true}
	chain := []string{key}
	cur := key
	for {
		def, ok := r.defs[cur]
		if !ok || def.AliasOf == nil || *def.AliasOf == "" {
			return cur, nil
		}
		next := *def.AliasOf
		chain = append(chain, next)
		if visited[next] {
			return "", &apperr.CycleError{Key: key, Chain: chain}
		}
		visited[next] = true
		cur = next
	}
}

// FieldsFor collapses the raw keys onto their canonical fields and returns them in display order.
func (r *Resolver) FieldsFor(keys []string, includeHidden bool) ([]models.FieldDefinition, error) {
	seen := make(map[string]bool)
	out := []models.FieldDefinition{}
	for _, raw := range keys {
		canonical, err := r.Resolve(BaseKey(raw))
		if err != nil {
			return nil, err
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		def, ok := r.defs[canonical]
		if !ok {
			continue
		}
		if def.Hidden() && !includeHidden {
			continue
		}
		out = append(out, def)
	}
	SortFields(out)
	return out, nil
}

// SortFields orders by displayOrder, then label case-insensitively, then key.
func SortFields(list []models.FieldDefinition) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		al, bl := strings.ToLower(a.Label), strings.ToLower(b.Label)
		if al != bl {
			return al < bl
		}
		return a.Key < b.Key
	})
}

var seatKeyRe = regexp.MustCompile(`^(.*\S)\s*#(\d+)$`)

// SplitSeatKey splits "cognome #2" into ("cognome", 2). Keys without a seat suffix return seat 0.
func SplitSeatKey(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	m := seatKeyRe.FindStringSubmatch(raw)
	if m == nil {
		return raw, 0
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n < 1 {
		return raw, 0
	}
	return m[1], n
}

func BaseKey(raw string) string {
	base, _ := SplitSeatKey(raw)
	return base
}

// HumanizeKey builds the default label: "pa_punto_di_ritrovo" becomes "Punto di ritrovo".
func HumanizeKey(key string) string {
	label := strings.TrimPrefix(key, "pa_")
	label = strings.TrimSpace(strings.ReplaceAll(label, "_", " "))
	if label == "" {
		return key
	}
	r, size := utf8.DecodeRuneInString(label)
	return string(unicode.ToUpper(r)) + label[size:]
}

package commerce

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Order mirrors the subset of the WooCommerce v3 order resource the roster consumes.
type Order struct {
	ID             int64       `json:"id"`
	Number         string      `json:"number"`
	Status         string      `json:"status"`
	DateCreated    string      `json:"date_created"`
	DateCreatedGMT string      `json:"date_created_gmt"`
	Billing        Billing     `json:"billing"`
	LineItems      []OrderItem `json:"line_items"`
	MetaData       []Meta      `json:"meta_data"`
}

type Billing struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type OrderItem struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ProductID   int64  `json:"product_id"`
	VariationID int64  `json:"variation_id"`
	Quantity    int    `json:"quantity"`
	SKU         string `json:"sku"`
	MetaData    []Meta `json:"meta_data"`
}

// Meta values are untyped upstream: strings, numbers, booleans or nested objects.
type Meta struct {
	ID    int64           `json:"id"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Text renders scalar meta values as text. Objects and arrays report false.
func (m Meta) Text() (string, bool) {
	raw := bytes.TrimSpace(m.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", true
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[':
		return "", false
	}
	return string(raw), true
}

type Product struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	SKU             string `json:"sku"`
	Status          string `json:"status"`
	DateModifiedGMT string `json:"date_modified_gmt"`
}

// ExternalID is the key orders and events share with the commerce platform.
func ExternalID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// upstream timestamps come without a zone; *_gmt fields are UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatTime renders a cursor the way the API expects in after/modified_after.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05")
}

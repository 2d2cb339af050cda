// Package parser decodes shop listing payloads into validated product records.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/idealinvestse/shoppi-shop-finder/models"
	"github.com/shopspring/decimal"
)

// ErrInvalidPayload is returned when a listing body cannot be decoded.
var ErrInvalidPayload = errors.New("parser: invalid payload")

var productsKey = []byte("products")

// ParseProducts decodes a listing body of the form {"products": [...]}.
// A body without a product listing yields no records and no error. Entries
// that fail validation are skipped and reported through dropped.
func ParseProducts(shop string, body []byte, discoveredAt time.Time) (records []*models.ProductRecord, dropped int, err error) {
	if !bytes.Contains(body, productsKey) {
		return nil, 0, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc map[string]json.RawMessage
	if err := dec.Decode(&doc); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	raw, ok := doc["products"]
	if !ok || isNull(raw) {
		return nil, 0, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, 0, fmt.Errorf("%w: products is not a list", ErrInvalidPayload)
	}

	for _, entry := range entries {
		record, err := decodeProduct(shop, entry, discoveredAt)
		if err != nil {
			dropped++
			continue
		}
		records = append(records, record)
	}
	return records, dropped, nil
}

func decodeProduct(shop string, entry json.RawMessage, discoveredAt time.Time) (*models.ProductRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(entry))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("product is not an object: %w", err)
	}

	for _, key := range []string{"name", "price", "stock"} {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("product missing %s", key)
		}
	}

	name, err := toName(fields["name"])
	if err != nil {
		return nil, err
	}
	price, err := ToPrice(fields["price"])
	if err != nil {
		return nil, err
	}
	stock, err := ToStock(fields["stock"])
	if err != nil {
		return nil, err
	}

	record := &models.ProductRecord{
		ShopName:     strings.TrimSpace(shop),
		ProductName:  strings.TrimSpace(name),
		Price:        price,
		Stock:        stock,
		DiscoveredAt: discoveredAt,
	}
	if err := ValidateProduct(record); err != nil {
		return nil, err
	}
	return record, nil
}

// ValidateProduct ensures a record is safe to persist.
func ValidateProduct(p *models.ProductRecord) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.ShopName) == "" {
		return fmt.Errorf("product missing shop name")
	}
	if strings.TrimSpace(p.ProductName) == "" {
		return fmt.Errorf("product missing name for shop %s", p.ShopName)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("negative price for %s", p.ProductName)
	}
	if p.Stock < 0 {
		return fmt.Errorf("negative stock for %s", p.ProductName)
	}
	return nil
}

// ToPrice accepts a JSON number or a numeric string.
func ToPrice(v any) (decimal.Decimal, error) {
	switch value := v.(type) {
	case json.Number:
		return decimal.NewFromString(value.String())
	case float64:
		return decimal.NewFromFloat(value), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(value))
	default:
		return decimal.Zero, fmt.Errorf("price has unsupported type %T", v)
	}
}

// ToStock accepts an integer, a float (truncated) or an integer string.
func ToStock(v any) (int, error) {
	switch value := v.(type) {
	case json.Number:
		if n, err := strconv.Atoi(value.String()); err == nil {
			return n, nil
		}
		f, err := value.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid stock %q", value.String())
		}
		return floatStock(f)
	case float64:
		return floatStock(value)
	case int:
		return value, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("invalid stock %q", value)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("stock has unsupported type %T", v)
	}
}

func toName(v any) (string, error) {
	switch value := v.(type) {
	case string:
		return value, nil
	case json.Number:
		return value.String(), nil
	default:
		return "", fmt.Errorf("name has unsupported type %T", v)
	}
}

// FormatPrice renders a price rounded to two decimals.
func FormatPrice(price decimal.Decimal) string {
	return price.StringFixed(2)
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// floatStock truncates f, rejecting values an int cannot hold.
func floatStock(f float64) (int, error) {
	if math.IsNaN(f) || f < math.MinInt || f >= math.MaxInt {
		return 0, fmt.Errorf("stock %v out of range", f)
	}
	return int(f), nil
}

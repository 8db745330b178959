// Package models defines data structures for the order-history extractor.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PurchaseRecord is one unit of a purchased product. A line item bought with
// quantity N is represented by N identical records.
type PurchaseRecord struct {
	ProductID       string    `csv:"product_id" json:"product_id"`
	Name            string    `csv:"name" json:"name"`
	PriceMinorUnits int64     `csv:"price" json:"price"`
	PurchasedAt     time.Time `csv:"purchased_at" json:"purchased_at"`
}

// MarshalJSON writes PurchasedAt as a civil date, matching the CSV and
// SQLite outputs.
func (r PurchaseRecord) MarshalJSON() ([]byte, error) {
	type plain PurchaseRecord
	return json.Marshal(struct {
		plain
		PurchasedAt string `json:"purchased_at"`
	}{plain(r), r.PurchasedAt.Format(DateLayout)})
}

func (r *PurchaseRecord) UnmarshalJSON(data []byte) error {
	type plain PurchaseRecord
	var aux struct {
		plain
		PurchasedAt string `json:"purchased_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	purchasedAt, err := time.Parse(DateLayout, aux.PurchasedAt)
	if err != nil {
		return fmt.Errorf("purchased_at: %w", err)
	}
	*r = PurchaseRecord(aux.plain)
	r.PurchasedAt = purchasedAt
	return nil
}

// ExtractionSummary holds the bookkeeping of one extraction run.
type ExtractionSummary struct {
	Range           DateRange
	Years           []int
	StartTime       time.Time
	EndTime         time.Time
	PageCount       int
	GroupsByOutcome map[string]int
	DuplicateOrders int
	RecordCount     int
	Err             error
}

// Duration reports how long the run took.
func (s ExtractionSummary) Duration() time.Duration {
	if s.EndTime.Before(s.StartTime) {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

package scraper

import "github.com/aluiziolira/go-order-history/models"

// Years lists the calendar years whose listings must be visited to cover r,
// newest first. The result is never empty for a valid range.
func Years(r models.DateRange) ([]int, error) {
	if !r.Valid() {
		return nil, ErrRange{Range: r, Err: models.ErrInvertedRange}
	}
	years := make([]int, 0, r.EndYear()-r.StartYear()+1)
	for y := r.EndYear(); y >= r.StartYear(); y-- {
		years = append(years, y)
	}
	return years, nil
}

// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package pushnotifications

import (
	"context"
	"math"
	"time"
)

// Statistics summarizes delivery over a period.
type Statistics struct {
	PeriodDays int `json:"period_days"`

	Total     int `json:"total"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Clicked   int `json:"clicked"`

	// Rates are percentages rounded to two decimals.
	DeliveryRate float64 `json:"delivery_rate"`
	ClickRate    float64 `json:"click_rate"`
	FailureRate  float64 `json:"failure_rate"`

	Categories map[Category]CategoryStatistics `json:"categories"`
	Daily      []DailyStatistics               `json:"daily"`
}

// CategoryStatistics summarizes a single category.
type CategoryStatistics struct {
	Total     int     `json:"total"`
	Delivered int     `json:"delivered"`
	Clicked   int     `json:"clicked"`
	ClickRate float64 `json:"click_rate"`
}

// DailyStatistics summarizes a single UTC day.
type DailyStatistics struct {
	Date      string `json:"date"`
	Total     int    `json:"total"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Clicked   int    `json:"clicked"`
}

const dateLayout = "2006-01-02"

// GetStatistics summarizes records created within the last days days.
func (service *Service) GetStatistics(ctx context.Context, days int) (stats Statistics, err error) {
	defer mon.Task()(&ctx)(&err)

	if days <= 0 {
		return stats, ErrConfig.New("days must be positive, got %d", days)
	}

	now := service.now()
	rows, err := service.records.StatisticRows(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		return stats, Error.Wrap(err)
	}
	return Aggregate(rows, days, now), nil
}

// Aggregate computes statistics of rows for the days days ending at now.
func Aggregate(rows []StatisticRow, days int, now time.Time) Statistics {
	now = now.UTC()
	stats := Statistics{
		PeriodDays: days,
		Categories: make(map[Category]CategoryStatistics, len(Categories)),
		Daily:      make([]DailyStatistics, days),
	}
	for _, category := range Categories {
		stats.Categories[category] = CategoryStatistics{}
	}

	daily := make(map[string]*DailyStatistics, days)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		day := &stats.Daily[i]
		day.Date = today.AddDate(0, 0, i-days+1).Format(dateLayout)
		daily[day.Date] = day
	}

	for _, row := range rows {
		clicked := row.ClickedAt != nil

		stats.Total++
		if row.Status != StatusPending {
			stats.Sent++
		}
		switch row.Status {
		case StatusDelivered:
			stats.Delivered++
		case StatusFailed:
			stats.Failed++
		}
		if clicked {
			stats.Clicked++
		}

		category := stats.Categories[row.Category]
		category.Total++
		if row.Status == StatusDelivered {
			category.Delivered++
		}
		if clicked {
			category.Clicked++
		}
		stats.Categories[row.Category] = category

		if day, ok := daily[row.CreatedAt.UTC().Format(dateLayout)]; ok {
			day.Total++
			switch row.Status {
			case StatusDelivered:
				day.Delivered++
			case StatusFailed:
				day.Failed++
			}
			if clicked {
				day.Clicked++
			}
		}
	}

	stats.DeliveryRate = percentage(stats.Delivered, stats.Sent)
	stats.ClickRate = percentage(stats.Clicked, stats.Delivered)
	stats.FailureRate = percentage(stats.Failed, stats.Sent)
	for name, category := range stats.Categories {
		category.ClickRate = percentage(category.Clicked, category.Delivered)
		stats.Categories[name] = category
	}

	return stats
}

func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*100*100) / 100
}

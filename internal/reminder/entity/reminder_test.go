package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextOccurrenceAfter(t *testing.T) {
	when := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	daily := int64(86400)
	minute := int64(60)

	tests := []struct {
		name     string
		interval *int64
		now      time.Time
		want     time.Time
	}{
		{"fired on time", &daily, when.Add(30 * time.Second), when.Add(24 * time.Hour)},
		{"fired late within interval", &daily, when.Add(23 * time.Hour), when.Add(24 * time.Hour)},
		{"missed occurrences are skipped", &daily, when.Add(72*time.Hour + time.Minute), when.Add(96 * time.Hour)},
		{"now on an occurrence", &minute, when.Add(5 * time.Minute), when.Add(6 * time.Minute)},
		{"month in the past", &minute, when.Add(30*24*time.Hour + 500*time.Millisecond), when.Add(30*24*time.Hour + time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Reminder{When: when, RepeatInterval: tt.interval}
			got := r.NextOccurrenceAfter(tt.now)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(tt.now))
		})
	}
}

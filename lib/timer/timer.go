package timer

import (
	"fmt"
	"strings"
	"time"
)

// MarkPoint define data structure of marked point
type MarkPoint struct {
	Tag   string
	Delta time.Duration
}

// XTimer define the timestamps and marked points
type XTimer struct {
	born   time.Time
	latest time.Time
	points []MarkPoint
}

// NewXTimer create new XTimer instance
func NewXTimer() *XTimer {
	now := time.Now()
	return &XTimer{
		born:   now,
		latest: now,
	}
}

// Mark mark a point and record the tag of the point with time delta
func (timer *XTimer) Mark(tag string) {
	now := time.Now()
	timer.points = append(timer.points, MarkPoint{Tag: tag, Delta: now.Sub(timer.latest)})
	timer.latest = now
}

// Points returns the marked points in order.
func (timer *XTimer) Points() []MarkPoint {
	return append([]MarkPoint(nil), timer.points...)
}

// Total is the time since the timer was created.
func (timer *XTimer) Total() time.Duration {
	return time.Since(timer.born)
}

// Print all record points and timestamp information
func (timer *XTimer) Print() string {
	msg := make([]string, 0, len(timer.points)+1)
	for _, point := range timer.points {
		msg = append(msg, fmt.Sprintf("%s:%.2fms", point.Tag, ms(point.Delta)))
	}
	msg = append(msg, fmt.Sprintf("total:%.2fms", ms(timer.Total())))
	return strings.Join(msg, ",")
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

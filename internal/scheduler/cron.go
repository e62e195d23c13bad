package scheduler

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// cronEngine resolves a 5-field cron expression's next fire time.
var cronEngine = gronx.New()

// NextFireTime computes the next run after 'after' for a cron expression.
func NextFireTime(expr string, after time.Time) (time.Time, error) {
	if !cronEngine.IsValid(expr) {
		return time.Time{}, fmt.Errorf("invalid cron expression %q", expr)
	}
	next, err := gronx.NextTickAfter(expr, after, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("compute next tick: %w", err)
	}
	return next, nil
}

package metadb

import (
	"context"
	"fmt"
	"time"
)

// CheckQuota reports whether userID may perform action today, given the
// injected daily limit. A limit of zero or less means unlimited.
func (d *DB) CheckQuota(ctx context.Context, userID, action string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(count), 0) FROM usage_counters
		 WHERE user_id = ? AND action = ? AND day = ?`,
		userID, action, today()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check quota: %w", err)
	}
	return count < limit, nil
}

// IncrementUsage records one performed action against today's counter.
func (d *DB) IncrementUsage(ctx context.Context, userID, action string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO usage_counters (user_id, action, day, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT(user_id, action, day) DO UPDATE SET count = count + 1`,
		userID, action, today())
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

package kit

import "time"

func SetLimiterClock(l *WriteLimiter, now func() time.Time) { l.now = now }

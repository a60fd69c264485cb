package repository

import (
	"time"

	"github.com/google/uuid"

	"github.com/okian/runac/pkg/metrics"
)

func defaultOptions(opts []Option) options {
	o := options{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// observe records latency and failure of one storage call. Use with defer:
//
//	defer observe(driver, "debit", time.Now(), &err)
func observe(driver, op string, start time.Time, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	metrics.RecordStoreOperation(driver, op, float64(time.Since(start).Microseconds())/1000, e)
}

package repository

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: stamps are millisecond-truncated and strictly increasing even when
// the clock stalls or jumps backwards.
func TestProperty_StamperMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("stamps strictly increase", prop.ForAll(
		func(offsets []int64) bool {
			base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
			i := 0
			s := &stamper{now: func() time.Time {
				at := base.Add(time.Duration(offsets[i%len(offsets)]) * time.Microsecond)
				i++
				return at
			}}
			var last time.Time
			for range offsets {
				next := s.next()
				if next.Nanosecond()%int(time.Millisecond) != 0 {
					return false
				}
				if !next.After(last) {
					return false
				}
				last = next
			}
			return true
		},
		gen.SliceOfN(20, gen.Int64Range(-5000, 5000)),
	))

	properties.TestingRun(t)
}

package correlate_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/driftwatch/internal/domain/correlate"
	. "github.com/smartystreets/goconvey/convey"
)

func TestObserveCompletion(t *testing.T) {
	ctx := context.Background()

	Convey("Given a correlation store", t, func() {
		s := correlate.NewStore()
		now := time.Now()

		Convey("When only one half arrives", func() {
			res, err := s.Observe(ctx, "A1", correlate.SlotTruth, 10.0, now)

			Convey("Then the entry stays pending", func() {
				So(err, ShouldBeNil)
				So(res.Completed, ShouldBeFalse)
				So(s.Stats().Pending, ShouldEqual, 1)
			})
		})

		Convey("When both halves arrive, truth first", func() {
			_, err := s.Observe(ctx, "A1", correlate.SlotTruth, 10.0, now)
			So(err, ShouldBeNil)
			res, err := s.Observe(ctx, "A1", correlate.SlotPrediction, 9.5, now)

			Convey("Then the pair completes and the entry is removed", func() {
				So(err, ShouldBeNil)
				So(res.Completed, ShouldBeTrue)
				So(res.TrueValue, ShouldEqual, 10.0)
				So(res.PredictedValue, ShouldEqual, 9.5)
				So(s.Stats().Pending, ShouldEqual, 0)
				So(s.Stats().Completed, ShouldEqual, 1)
			})
		})

		Convey("When both halves arrive, prediction first", func() {
			_, err := s.Observe(ctx, "A1", correlate.SlotPrediction, 9.5, now)
			So(err, ShouldBeNil)
			res, err := s.Observe(ctx, "A1", correlate.SlotTruth, 10.0, now)

			Convey("Then the result is identical to the other arrival order", func() {
				So(err, ShouldBeNil)
				So(res.Completed, ShouldBeTrue)
				So(res.TrueValue, ShouldEqual, 10.0)
				So(res.PredictedValue, ShouldEqual, 9.5)
			})
		})

		Convey("When an id is observed after completion", func() {
			_, _ = s.Observe(ctx, "A1", correlate.SlotTruth, 10.0, now)
			_, _ = s.Observe(ctx, "A1", correlate.SlotPrediction, 9.5, now)
			_, err := s.Observe(ctx, "A1", correlate.SlotPrediction, 9.5, now)

			Convey("Then it is rejected as already completed", func() {
				So(errors.Is(err, correlate.ErrAlreadyCompleted), ShouldBeTrue)
				So(s.Stats().Completed, ShouldEqual, 1)
				So(s.Stats().Duplicates, ShouldEqual, 1)
			})
		})

		Convey("When Forget clears a completed id", func() {
			_, _ = s.Observe(ctx, "A1", correlate.SlotTruth, 10.0, now)
			_, _ = s.Observe(ctx, "A1", correlate.SlotPrediction, 9.5, now)
			s.Forget(ctx, "A1")

			Convey("Then the id can correlate again", func() {
				_, err := s.Observe(ctx, "A1", correlate.SlotTruth, 10.0, now)
				So(err, ShouldBeNil)
			})
		})

		Convey("When observing with an empty id", func() {
			_, err := s.Observe(ctx, "", correlate.SlotTruth, 1.0, now)
			So(errors.Is(err, correlate.ErrEmptyID), ShouldBeTrue)
		})
	})
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store with a short timeout", t, func() {
		s := correlate.NewStore(correlate.WithTimeout(50 * time.Millisecond))

		Convey("When a lone half ages past the timeout", func() {
			stale := time.Now().Add(-time.Second)
			_, err := s.Observe(ctx, "orphan-1", correlate.SlotTruth, 1.0, stale)
			So(err, ShouldBeNil)

			// Any later observation sweeps expired entries.
			_, err = s.Observe(ctx, "fresh-1", correlate.SlotTruth, 2.0, time.Now())
			So(err, ShouldBeNil)

			Convey("Then it is evicted and counted as an orphan", func() {
				st := s.Stats()
				So(st.Orphaned, ShouldEqual, 1)
				So(st.Pending, ShouldEqual, 1)
			})

			Convey("And its late half does not complete", func() {
				res, err := s.Observe(ctx, "orphan-1", correlate.SlotPrediction, 1.5, time.Now())
				So(err, ShouldBeNil)
				So(res.Completed, ShouldBeFalse)
			})
		})

		Convey("When the janitor runs against an idle stream", func() {
			sweeper := correlate.NewStore(
				correlate.WithTimeout(10*time.Millisecond),
				correlate.WithSweepInterval(10*time.Millisecond),
			)
			_, err := sweeper.Observe(ctx, "idle-1", correlate.SlotTruth, 1.0, time.Now().Add(-time.Second))
			So(err, ShouldBeNil)

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				sweeper.Run(runCtx)
				close(done)
			}()

			So(func() bool {
				deadline := time.Now().Add(time.Second)
				for time.Now().Before(deadline) {
					if sweeper.Stats().Orphaned == 1 {
						return true
					}
					time.Sleep(5 * time.Millisecond)
				}
				return false
			}(), ShouldBeTrue)

			cancel()
			<-done
		})
	})
}

func TestCapacityEviction(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store capped at 10000 pending entries", t, func() {
		s := correlate.NewStore(correlate.WithCapacity(10000))
		now := time.Now()

		Convey("When 10001 distinct pending correlations arrive", func() {
			for i := 0; i < 10001; i++ {
				_, err := s.Observe(ctx, fmt.Sprintf("id-%d", i), correlate.SlotTruth, float64(i), now)
				So(err, ShouldBeNil)
			}

			Convey("Then exactly the oldest entry was forcibly expired", func() {
				st := s.Stats()
				So(st.Pending, ShouldEqual, 10000)
				So(st.Orphaned, ShouldEqual, 1)

				// id-0 was evicted: its late half starts a fresh entry.
				res, err := s.Observe(ctx, "id-0", correlate.SlotPrediction, 0.5, now)
				So(err, ShouldBeNil)
				So(res.Completed, ShouldBeFalse)

				// id-1 survived and completes normally.
				res, err = s.Observe(ctx, "id-1", correlate.SlotPrediction, 1.5, now)
				So(err, ShouldBeNil)
				So(res.Completed, ShouldBeTrue)
			})
		})
	})
}

func TestConcurrentObserve(t *testing.T) {
	ctx := context.Background()
	s := correlate.NewStore(correlate.WithCapacity(100000))
	now := time.Now()

	const ids = 500

	var wg sync.WaitGroup
	completions := make(chan string, 2*ids)

	// Both halves of every id race from separate goroutines; each id must
	// complete exactly once regardless of interleaving.
	for i := 0; i < ids; i++ {
		id := fmt.Sprintf("id-%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := s.Observe(ctx, id, correlate.SlotTruth, 1.0, now)
			if err == nil && res.Completed {
				completions <- id
			}
		}()
		go func() {
			defer wg.Done()
			res, err := s.Observe(ctx, id, correlate.SlotPrediction, 2.0, now)
			if err == nil && res.Completed {
				completions <- id
			}
		}()
	}
	wg.Wait()
	close(completions)

	seen := make(map[string]int)
	for id := range completions {
		seen[id]++
	}
	if len(seen) != ids {
		t.Fatalf("expected %d completed ids, got %d", ids, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("id %s completed %d times", id, n)
		}
	}
}

package service_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	service "github.com/okian/driftwatch/internal/app"
	"github.com/okian/driftwatch/internal/config"
	logging "github.com/okian/driftwatch/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New(context.Background())
	cfg.BrokerProvider = config.BrokerMemory
	cfg.ProduceIntervalMS = 20
	cfg.MetricLogPath = filepath.Join(t.TempDir(), "metric_log.csv")
	cfg.ShutdownTimeoutMS = 2000
	return cfg
}

func TestService(t *testing.T) {
	_ = logging.Init()

	convey.Convey("Given a full pipeline on the in-process broker", t, func() {
		cfg := testConfig(t)
		svc := service.New(cfg)

		convey.Convey("When started with all roles", func() {
			err := svc.Start(context.Background())
			convey.So(err, convey.ShouldBeNil)
			defer svc.Stop()

			convey.Convey("Then metrics should land in the append-only log", func() {
				deadline := time.Now().Add(5 * time.Second)
				var lines []string
				for time.Now().Before(deadline) {
					data, readErr := os.ReadFile(cfg.MetricLogPath)
					if readErr == nil {
						lines = nonEmptyLines(string(data))
						if len(lines) >= 4 { // header + a few records
							break
						}
					}
					time.Sleep(20 * time.Millisecond)
				}

				convey.So(len(lines), convey.ShouldBeGreaterThanOrEqualTo, 4)
				convey.So(lines[0], convey.ShouldEqual, "id,y_true,y_pred,error_value,computed_time")

				seen := map[string]bool{}
				for _, line := range lines[1:] {
					fields := strings.Split(line, ",")
					convey.So(len(fields), convey.ShouldEqual, 5)
					convey.So(fields[0], convey.ShouldNotBeEmpty)
					convey.So(seen[fields[0]], convey.ShouldBeFalse)
					seen[fields[0]] = true
				}
			})

			convey.Convey("Then stats should reflect the running pipeline", func() {
				stats := svc.GetStats()
				convey.So(stats["started"], convey.ShouldBeTrue)
				convey.So(stats["produce"], convey.ShouldBeTrue)
				convey.So(stats["score"], convey.ShouldBeTrue)
				convey.So(stats["aggregate"], convey.ShouldBeTrue)
				convey.So(stats, convey.ShouldContainKey, "queue_depths")
			})
		})

		convey.Convey("When started twice", func() {
			convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
			defer svc.Stop()

			convey.Convey("Then the second start should be a no-op", func() {
				convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
			})
		})

		convey.Convey("When no roles are enabled", func() {
			idle := service.New(cfg, service.WithRoles(service.Roles{}))

			convey.Convey("Then start should fail", func() {
				convey.So(idle.Start(context.Background()), convey.ShouldNotBeNil)
			})
		})
	})
}

func TestServiceStopIsIdempotent(t *testing.T) {
	_ = logging.Init()

	convey.Convey("Given a started service", t, func() {
		cfg := testConfig(t)
		svc := service.New(cfg)
		convey.So(svc.Start(context.Background()), convey.ShouldBeNil)

		convey.Convey("When stopped twice", func() {
			svc.Stop()

			convey.Convey("Then the second stop should not panic", func() {
				convey.So(svc.Stop, convey.ShouldNotPanic)
			})
		})
	})
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

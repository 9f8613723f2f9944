package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/driftwatch/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.BrokerProvider, convey.ShouldEqual, config.BrokerMemory)
				convey.So(cfg.FeaturesQueue, convey.ShouldEqual, "features")
				convey.So(cfg.GroundTruthQueue, convey.ShouldEqual, "ground_truth")
				convey.So(cfg.PredictionsQueue, convey.ShouldEqual, "predictions")
				convey.So(cfg.DeadLetterQueue, convey.ShouldEqual, "dead_letter")
				convey.So(cfg.CorrelationTimeout(), convey.ShouldEqual, 60*time.Second)
				convey.So(cfg.CorrelationCapacity, convey.ShouldEqual, 10_000)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 50_000)
				convey.So(cfg.ErrorFunction, convey.ShouldEqual, "absolute")
				convey.So(cfg.MaxDeliveries, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("DRIFTWATCH_ADDR", ":8080")
			_ = os.Setenv("DRIFTWATCH_BROKER_PROVIDER", "nats")
			_ = os.Setenv("DRIFTWATCH_BROKER_URL", "nats://broker:4222")
			_ = os.Setenv("DRIFTWATCH_CORRELATION_TIMEOUT_MS", "30000")
			_ = os.Setenv("DRIFTWATCH_CORRELATION_CAPACITY", "5000")
			_ = os.Setenv("DRIFTWATCH_ERROR_FUNCTION", "squared")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.BrokerProvider, convey.ShouldEqual, config.BrokerNATS)
				convey.So(cfg.BrokerURL, convey.ShouldEqual, "nats://broker:4222")
				convey.So(cfg.CorrelationTimeout(), convey.ShouldEqual, 30*time.Second)
				convey.So(cfg.CorrelationCapacity, convey.ShouldEqual, 5000)
				convey.So(cfg.ErrorFunction, convey.ShouldEqual, "squared")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			clearConfigEnvVars()

			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			yaml := "addr: \":7070\"\nmetric_log_path: /tmp/metrics.csv\nproduce_interval_ms: 100\n"
			convey.So(os.WriteFile(path, []byte(yaml), 0o600), convey.ShouldBeNil)
			_ = os.Setenv("DRIFTWATCH_CONFIG", path)
			defer func() { _ = os.Unsetenv("DRIFTWATCH_CONFIG") }()

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values should override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.MetricLogPath, convey.ShouldEqual, "/tmp/metrics.csv")
				convey.So(cfg.ProduceInterval(), convey.ShouldEqual, 100*time.Millisecond)
			})
		})

		convey.Convey("When configuration is invalid", func() {
			convey.Convey("Then an unknown broker provider should fail", func() {
				_ = os.Setenv("DRIFTWATCH_BROKER_PROVIDER", "rabbitmq")
				defer clearConfigEnvVars()

				_, err := config.Load(ctx)
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "broker provider")
			})

			convey.Convey("Then an empty addr should fail", func() {
				_ = os.Setenv("DRIFTWATCH_ADDR", "")
				defer clearConfigEnvVars()

				_, err := config.Load(ctx)
				convey.So(err, convey.ShouldNotBeNil)
			})

			convey.Convey("Then a non-positive capacity should fail", func() {
				_ = os.Setenv("DRIFTWATCH_CORRELATION_CAPACITY", "0")
				defer clearConfigEnvVars()

				_, err := config.Load(ctx)
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, key := range []string{
		"DRIFTWATCH_CONFIG",
		"DRIFTWATCH_ADDR",
		"DRIFTWATCH_BROKER_PROVIDER",
		"DRIFTWATCH_BROKER_URL",
		"DRIFTWATCH_CORRELATION_TIMEOUT_MS",
		"DRIFTWATCH_CORRELATION_CAPACITY",
		"DRIFTWATCH_ERROR_FUNCTION",
	} {
		_ = os.Unsetenv(key)
	}
}

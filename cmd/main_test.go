package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/scoreboard/internal/adapters/storage/seed"
	"github.com/okian/scoreboard/internal/config"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"
)

const legacySeed = `legacy_users:
  - id: zzz
    username: ABC
    email: abc@test.test
    password_hash: "$2a$08$slf.HjrpyEjFgg/HvVW0FuWzCoRNI8eW0Ei4PM.5o6ImHt7lA/Xze"
`

func testConfig() *config.Config {
	cfg := config.New()
	cfg.TokenSecret = "secret"
	cfg.Addr = "127.0.0.1:0"
	return cfg
}

func TestMainConfiguration(t *testing.T) {
	convey.Convey("Given scoreboard environment variables", t, func() {
		_ = os.Setenv("SCOREBOARD_TOKEN_SECRET", "secret")
		_ = os.Setenv("SCOREBOARD_ADDR", ":8080")
		_ = os.Setenv("SCOREBOARD_REINDEX_WORKERS", "4")
		defer func() {
			_ = os.Unsetenv("SCOREBOARD_TOKEN_SECRET")
			_ = os.Unsetenv("SCOREBOARD_ADDR")
			_ = os.Unsetenv("SCOREBOARD_REINDEX_WORKERS")
		}()

		convey.Convey("Then the configuration loads them", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.ReindexWorkers, convey.ShouldEqual, 4)
		})
	})

	convey.Convey("Given no token secret", t, func() {
		_ = os.Unsetenv("SCOREBOARD_TOKEN_SECRET")

		convey.Convey("Then loading fails", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func TestBuild(t *testing.T) {
	log := logger.Get()

	convey.Convey("Given the in-memory configuration", t, func() {
		ctx := context.Background()
		a, err := build(ctx, testConfig(), log)
		convey.So(err, convey.ShouldBeNil)
		defer a.close()

		convey.Convey("Then the router answers health checks", func() {
			w := httptest.NewRecorder()
			a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then a player can register through it", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/players", strings.NewReader(`{"name":"flicknote"}`))
			a.handler.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusCreated)
		})
	})

	convey.Convey("Given the sqlite driver", t, func() {
		cfg := testConfig()
		cfg.StorageDriver = config.StorageSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "scoreboard.db")

		convey.Convey("Then the store is opened on disk", func() {
			a, err := build(context.Background(), cfg, log)
			convey.So(err, convey.ShouldBeNil)
			a.close()
			_, statErr := os.Stat(cfg.SQLitePath)
			convey.So(statErr, convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a legacy seed file", t, func() {
		cfg := testConfig()
		cfg.LegacyAPIKey = "__dummy_api_key__"
		cfg.LegacySeedFile = filepath.Join(t.TempDir(), "legacy.yaml")
		convey.So(os.WriteFile(cfg.LegacySeedFile, []byte(legacySeed), 0o600), convey.ShouldBeNil)

		a, err := build(context.Background(), cfg, log)
		convey.So(err, convey.ShouldBeNil)
		defer a.close()

		convey.Convey("Then the seeded account passes the legacy check", func() {
			form := url.Values{"usernameOrEmail": {"ABC"}, "password": {"meow"}, "apiKey": {cfg.LegacyAPIKey}}
			req := httptest.NewRequest(http.MethodPost, "/legacyusers/check", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			a.handler.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"_id":"zzz"`)
		})
	})

	convey.Convey("Given an unreadable legacy seed file", t, func() {
		cfg := testConfig()
		cfg.LegacySeedFile = filepath.Join(t.TempDir(), "missing.yaml")

		convey.Convey("Then building fails", func() {
			_, err := build(context.Background(), cfg, log)
			convey.So(errors.Is(err, seed.ErrInvalidSeed), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given metrics settings", t, func() {
		cfg := testConfig()
		cfg.MetricsEnabled = false
		cfg.MetricsRefreshMS = 250
		defer func() {
			metrics.SetEnabled(true)
			metrics.SetRefreshInterval(10 * time.Second)
		}()

		convey.Convey("Then build applies them to the metrics package", func() {
			a, err := build(context.Background(), cfg, log)
			convey.So(err, convey.ShouldBeNil)
			a.close()
			convey.So(metrics.Enabled(), convey.ShouldBeFalse)
			convey.So(metrics.RefreshInterval(), convey.ShouldEqual, 250*time.Millisecond)
		})
	})

	convey.Convey("Given an unknown storage driver", t, func() {
		cfg := testConfig()
		cfg.StorageDriver = "floppy"

		convey.Convey("Then building fails", func() {
			_, err := build(context.Background(), cfg, log)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given an unknown rank backend", t, func() {
		cfg := testConfig()
		cfg.RankBackend = "abacus"

		convey.Convey("Then building fails", func() {
			_, err := build(context.Background(), cfg, log)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a running process", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- run(ctx, testConfig(), logger.Get()) }()

		convey.Convey("When the context is cancelled", func() {
			time.Sleep(100 * time.Millisecond)
			cancel()

			convey.Convey("Then it shuts down cleanly", func() {
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(10 * time.Second):
					convey.So("run did not return", convey.ShouldBeEmpty)
				}
			})
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the metric updaters", t, func() {
		a, err := build(context.Background(), testConfig(), logger.Get())
		convey.So(err, convey.ShouldBeNil)
		defer a.close()

		convey.Convey("Then a single refresh does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(a.svc) }, convey.ShouldNotPanic)
		})

		convey.Convey("Then the loops stop with their context", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			convey.So(func() {
				startSystemMetricsUpdater(ctx)
				startServiceMetricsUpdater(ctx, a.svc)
			}, convey.ShouldNotPanic)
		})
	})
}

package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/scoreboard/internal/config"
	"github.com/okian/scoreboard/internal/domain/model"
)

func validConfig() *config.Config {
	cfg := config.New()
	cfg.TokenSecret = "secret"
	return cfg
}

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8008")
			convey.So(cfg.StorageDriver, convey.ShouldEqual, config.StorageMemory)
			convey.So(cfg.RankBackend, convey.ShouldEqual, config.RankTreap)
			convey.So(cfg.Policy(), convey.ShouldEqual, model.PolicyLatest)
			convey.So(cfg.DefaultLeaderboardMax, convey.ShouldEqual, 50)
			convey.So(cfg.RequestTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.MetricsEnabled, convey.ShouldBeTrue)
			convey.So(cfg.MetricsRefresh(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.LegacySeedFile, convey.ShouldBeEmpty)
		})

		convey.Convey("Then it is incomplete until a token secret is given", func() {
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			cfg.TokenSecret = "secret"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty addr", func(c *config.Config) { c.Addr = "" }},
		{"zero timeout", func(c *config.Config) { c.RequestTimeoutMS = 0 }},
		{"default above cap", func(c *config.Config) { c.DefaultLeaderboardMax = 2000 }},
		{"zero workers", func(c *config.Config) { c.ReindexWorkers = 0 }},
		{"unknown policy", func(c *config.Config) { c.ScorePolicy = "median" }},
		{"unknown driver", func(c *config.Config) { c.StorageDriver = "mongo" }},
		{"sqlite without path", func(c *config.Config) { c.StorageDriver = config.StorageSQLite; c.SQLitePath = "" }},
		{"postgres without dsn", func(c *config.Config) { c.StorageDriver = config.StoragePostgres }},
		{"unknown rank backend", func(c *config.Config) { c.RankBackend = "btree" }},
		{"zero metrics refresh", func(c *config.Config) { c.MetricsRefreshMS = 0 }},
		{"redis without addr", func(c *config.Config) { c.RankBackend = config.RankRedis; c.RedisAddr = "" }},
	}

	convey.Convey("Given invalid configurations", t, func() {
		for _, tc := range cases {
			convey.Convey("When "+tc.name, func() {
				cfg := validConfig()
				tc.mutate(cfg)

				convey.Convey("Then validation fails with ErrInvalidConfig", func() {
					convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}
	})

	convey.Convey("Given the best policy with postgres and redis", t, func() {
		cfg := validConfig()
		cfg.ScorePolicy = "best"
		cfg.StorageDriver = config.StoragePostgres
		cfg.PostgresDSN = "postgres://localhost/scoreboard"
		cfg.RankBackend = config.RankRedis

		convey.Convey("Then it validates", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
			convey.So(cfg.Policy(), convey.ShouldEqual, model.PolicyBest)
		})
	})
}

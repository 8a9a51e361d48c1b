package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	minDelay       time.Duration
	minParallel    int
	parallelGrowth float64
	acquireTimeout time.Duration
	settleDelay    time.Duration

	maxFrames             int
	allowWriteWhileEnding bool
	producers             int
	keys                  int
	frameInterval         time.Duration
	produceInterval       time.Duration
	runFor                time.Duration
	reportEvery           time.Duration

	strictInvariants bool
	diagRPS          float64
	diagBurst        int
	logFormat        string
	logLevel         string

	statsEnabled       bool
	statsRedisAddr     string
	statsRedisPassword string
	statsRedisDB       int
	statsPrefix        string
	statsTTL           time.Duration
	statsBucket        string
	statsTrackKeys     bool
}

// fileConfig é o formato do arquivo YAML apontado por CONFIG_FILE.
// Variáveis de ambiente têm precedência sobre o arquivo.
type fileConfig struct {
	Debouncer struct {
		MinDelay       string  `yaml:"min_delay"`
		MinParallel    int     `yaml:"min_parallel"`
		ParallelGrowth float64 `yaml:"parallel_growth"`
		AcquireTimeout string  `yaml:"acquire_timeout"`
		SettleDelay    string  `yaml:"settle_delay"`
	} `yaml:"debouncer"`
	Frames struct {
		MaxFrames             int    `yaml:"max_frames"`
		AllowWriteWhileEnding *bool  `yaml:"allow_write_while_ending"`
		Producers             int    `yaml:"producers"`
		Keys                  int    `yaml:"keys"`
		FrameInterval         string `yaml:"frame_interval"`
		ProduceInterval       string `yaml:"produce_interval"`
	} `yaml:"frames"`
	RunFor      string `yaml:"run_for"`
	ReportEvery string `yaml:"report_every"`
	Diagnostics struct {
		Strict    bool    `yaml:"strict"`
		RPS       float64 `yaml:"rps"`
		Burst     int     `yaml:"burst"`
		LogFormat string  `yaml:"log_format"`
		LogLevel  string  `yaml:"log_level"`
	} `yaml:"diagnostics"`
	Stats struct {
		Enabled   bool   `yaml:"enabled"`
		RedisAddr string `yaml:"redis_addr"`
		RedisDB   int    `yaml:"redis_db"`
		Prefix    string `yaml:"prefix"`
		TTL       string `yaml:"ttl"`
		Bucket    string `yaml:"bucket"`
		TrackKeys bool   `yaml:"track_keys"`
	} `yaml:"stats"`
}

func readConfig() (config, error) {
	var fc fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("read CONFIG_FILE: %w", err)
		}
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return config{}, fmt.Errorf("parse CONFIG_FILE: %w", err)
		}
	}
	return buildConfig(fc)
}

func buildConfig(fc fileConfig) (config, error) {
	allowWrite := true
	if fc.Frames.AllowWriteWhileEnding != nil {
		allowWrite = *fc.Frames.AllowWriteWhileEnding
	}

	cfg := config{}
	cfg.minDelay = getenvDurationDefault("MIN_DELAY", parseDurationDefault(fc.Debouncer.MinDelay, 500*time.Millisecond))
	cfg.minParallel = getenvIntDefault("MIN_PARALLEL", intDefault(fc.Debouncer.MinParallel, 2))
	cfg.parallelGrowth = getenvFloatDefault("PARALLEL_GROWTH", fc.Debouncer.ParallelGrowth)
	cfg.acquireTimeout = getenvDurationDefault("ACQUIRE_TIMEOUT", parseDurationDefault(fc.Debouncer.AcquireTimeout, 0))
	cfg.settleDelay = getenvDurationDefault("SETTLE_DELAY", parseDurationDefault(fc.Debouncer.SettleDelay, 0))

	cfg.maxFrames = getenvIntDefault("MAX_FRAMES", intDefault(fc.Frames.MaxFrames, 4))
	// o binário usa o modo permissivo por padrão: produtores concorrentes
	// escrevem enquanto o relógio fecha frames.
	cfg.allowWriteWhileEnding = getenvBoolDefault("ALLOW_WRITE_WHILE_ENDING", allowWrite)
	cfg.producers = getenvIntDefault("PRODUCERS", intDefault(fc.Frames.Producers, 4))
	cfg.keys = getenvIntDefault("KEYS", intDefault(fc.Frames.Keys, 8))
	cfg.frameInterval = getenvDurationDefault("FRAME_INTERVAL", parseDurationDefault(fc.Frames.FrameInterval, 16*time.Millisecond))
	cfg.produceInterval = getenvDurationDefault("PRODUCE_INTERVAL", parseDurationDefault(fc.Frames.ProduceInterval, 2*time.Millisecond))
	cfg.runFor = getenvDurationDefault("RUN_FOR", parseDurationDefault(fc.RunFor, 0))
	cfg.reportEvery = getenvDurationDefault("REPORT_EVERY", parseDurationDefault(fc.ReportEvery, 5*time.Second))

	cfg.strictInvariants = getenvBoolDefault("STRICT_INVARIANTS", fc.Diagnostics.Strict)
	cfg.diagRPS = getenvFloatDefault("DIAG_RPS", floatDefault(fc.Diagnostics.RPS, 1))
	cfg.diagBurst = getenvIntDefault("DIAG_BURST", intDefault(fc.Diagnostics.Burst, 5))
	cfg.logFormat = getenvDefault("LOG_FORMAT", stringDefault(fc.Diagnostics.LogFormat, "json"))
	cfg.logLevel = getenvDefault("LOG_LEVEL", stringDefault(fc.Diagnostics.LogLevel, "info"))

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", fc.Stats.Enabled)
	cfg.statsRedisAddr = getenvDefault("STATS_REDIS_ADDR", fc.Stats.RedisAddr)
	cfg.statsRedisPassword = os.Getenv("STATS_REDIS_PASSWORD")
	cfg.statsRedisDB = getenvIntDefault("STATS_REDIS_DB", fc.Stats.RedisDB)
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", stringDefault(fc.Stats.Prefix, "coord:stats"))
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", parseDurationDefault(fc.Stats.TTL, 24*time.Hour))
	cfg.statsBucket = getenvDefault("STATS_BUCKET", stringDefault(fc.Stats.Bucket, "minute"))
	cfg.statsTrackKeys = getenvBoolDefault("STATS_TRACK_KEYS", fc.Stats.TrackKeys)

	if cfg.statsEnabled && strings.TrimSpace(cfg.statsRedisAddr) == "" {
		return config{}, errors.New("STATS_REDIS_ADDR is required when STATS_ENABLED=true")
	}
	if cfg.minDelay < 0 || cfg.settleDelay < 0 {
		return config{}, errors.New("MIN_DELAY and SETTLE_DELAY must be >= 0")
	}
	if cfg.minParallel < 1 {
		return config{}, errors.New("MIN_PARALLEL must be >= 1")
	}
	if cfg.parallelGrowth < 0 || cfg.parallelGrowth > 1 {
		return config{}, errors.New("PARALLEL_GROWTH must be in [0,1]")
	}
	if cfg.maxFrames < 1 {
		return config{}, errors.New("MAX_FRAMES must be >= 1")
	}
	if cfg.producers < 1 {
		return config{}, errors.New("PRODUCERS must be >= 1")
	}
	if cfg.keys < 1 {
		return config{}, errors.New("KEYS must be >= 1")
	}
	if cfg.frameInterval <= 0 || cfg.produceInterval <= 0 || cfg.reportEvery <= 0 {
		return config{}, errors.New("FRAME_INTERVAL, PRODUCE_INTERVAL and REPORT_EVERY must be > 0")
	}
	if cfg.diagRPS <= 0 || cfg.diagBurst <= 0 {
		return config{}, errors.New("DIAG_RPS and DIAG_BURST must be > 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func parseDurationDefault(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func intDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func floatDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func stringDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"workcoord/coordination"
	"workcoord/coordination/application"
	"workcoord/coordination/domain"
	"workcoord/coordination/infra"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// event é o item produzido a cada tick por um produtor.
type event struct {
	Producer int
	Seq      uint64
	Key      string
}

func main() {
	cfg, err := readConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	memStats := infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.statsTrackKeys))
	stats := teeStats{memStats}
	if cfg.statsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.statsRedisAddr,
			Password: cfg.statsRedisPassword,
			DB:       cfg.statsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("redis stats ping error")
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if cfg.runFor > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, cfg.runFor)
		defer stop()
	}

	throttle := infra.NewThrottle(cfg.diagRPS, cfg.diagBurst)
	go throttle.Run(ctx)
	sink := infra.NewLogSink(logger,
		infra.WithStrict(cfg.strictInvariants),
		infra.WithThrottle(throttle),
		infra.WithSinkStats(stats),
	)

	frames, err := coordination.NewFrameChannel[event](cfg.maxFrames, cfg.allowWriteWhileEnding,
		coordination.WithSink(sink),
		coordination.WithStats(stats),
		coordination.WithPacketCapacity(cfg.producers*4),
		coordination.WithPrealloc(cfg.maxFrames+1),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("frame channel")
	}

	debouncer, err := coordination.NewDebouncer[string, int](cfg.minDelay, cfg.minParallel, cfg.parallelGrowth,
		coordination.WithSink(sink),
		coordination.WithStats(stats),
		coordination.WithAcquireTimeout(cfg.acquireTimeout),
		coordination.WithSettleDelay(cfg.settleDelay),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("debouncer")
	}

	logger.Info().
		Dur("minDelay", cfg.minDelay).
		Int("minParallel", cfg.minParallel).
		Float64("parallelGrowth", cfg.parallelGrowth).
		Dur("acquireTimeout", cfg.acquireTimeout).
		Dur("settleDelay", cfg.settleDelay).
		Msg("debouncer")
	logger.Info().
		Int("maxFrames", cfg.maxFrames).
		Bool("allowWriteWhileEnding", cfg.allowWriteWhileEnding).
		Int("producers", cfg.producers).
		Int("keys", cfg.keys).
		Dur("frameInterval", cfg.frameInterval).
		Dur("produceInterval", cfg.produceInterval).
		Msg("frames")
	logger.Info().
		Bool("enabled", cfg.statsEnabled).
		Str("redisAddr", cfg.statsRedisAddr).
		Str("bucket", cfg.statsBucket).
		Dur("ttl", cfg.statsTTL).
		Bool("trackKeys", cfg.statsTrackKeys).
		Msg("stats")

	var (
		flushes    atomic.Int64
		writeFails atomic.Int64
		endFails   atomic.Int64
		flushWG    sync.WaitGroup
	)
	flush := func(ctx context.Context) (int, error) {
		return int(flushes.Add(1)), nil
	}

	g, gctx := errgroup.WithContext(ctx)

	for p := 0; p < cfg.producers; p++ {
		g.Go(func() error {
			t := time.NewTicker(cfg.produceInterval)
			defer t.Stop()
			var seq uint64
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					seq++
					err := frames.WriteFramePacketData(event{
						Producer: p,
						Seq:      seq,
						Key:      "key-" + strconv.Itoa(int(seq)%cfg.keys),
					})
					if errors.Is(err, domain.ErrDisposed) {
						return nil
					}
					if err != nil {
						writeFails.Add(1)
					}
				}
			}
		})
	}

	g.Go(func() error {
		t := time.NewTicker(cfg.frameInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				err := frames.EndFrameAndEnqueue()
				if errors.Is(err, domain.ErrDisposed) {
					return nil
				}
				if err != nil {
					endFails.Add(1)
				}
			}
		}
	})

	g.Go(func() error {
		keys := make(map[string]struct{}, cfg.keys)
		var packet *application.FramePacket[event]
		for {
			next, err := frames.ReadFrame(gctx, packet)
			if errors.Is(err, domain.ErrCancelled) || errors.Is(err, domain.ErrDisposed) {
				return nil
			}
			if next == nil {
				return err
			}
			packet = next

			clear(keys)
			for _, ev := range packet.Items {
				keys[ev.Key] = struct{}{}
			}
			for key := range keys {
				flushWG.Add(1)
				go func() {
					defer flushWG.Done()
					res := debouncer.EventuallyOnce(gctx, key, flush)
					if res.Failed() {
						logger.Warn().Err(res.Err()).Str("key", key).Msg("flush failed")
					}
				}()
			}
		}
	})

	g.Go(func() error {
		t := time.NewTicker(cfg.reportEvery)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				logStats(logger, memStats, frames, debouncer, flushes.Load())
			}
		}
	})

	<-gctx.Done()
	frames.Dispose()
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("pipeline error")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.minDelay+5*time.Second)
	defer drainCancel()
	for i := 0; i < cfg.keys; i++ {
		if err := debouncer.AwaitComplete(drainCtx, "key-"+strconv.Itoa(i)); err != nil {
			logger.Warn().Err(err).Int("key", i).Msg("drain timeout")
		}
	}
	flushWG.Wait()

	logStats(logger, memStats, frames, debouncer, flushes.Load())
	logger.Info().
		Int64("writeFailures", writeFails.Load()).
		Int64("endFrameFailures", endFails.Load()).
		Uint64("suppressedViolations", sink.Suppressed()).
		Msg("stopped")
}

func logStats(logger zerolog.Logger, mem *infra.MemoryStatsStore, frames *application.FrameChannel[event], debouncer *application.Debouncer[string, int], flushes int64) {
	total := mem.Total()
	logger.Info().
		Uint64("frames", frames.Frames()).
		Uint64("dropped", frames.Dropped()).
		Int64("executed", total[domain.EventExecuted]).
		Int64("coalesced", total[domain.EventCoalesced]).
		Int64("cancelled", total[domain.EventCancelled]).
		Int64("violations", total[domain.EventViolation]).
		Int64("flushes", flushes).
		Int("inFlight", debouncer.InFlight()).
		Int("budget", debouncer.Budget()).
		Msg("stats")
}

// teeStats replica cada evento para todos os stores (best-effort, primeiro erro vence).
type teeStats []domain.StatsStore

func (t teeStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range t {
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func newLogger(cfg config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.logLevel))
	if err != nil || cfg.logLevel == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.logFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("app", "coordinator").Logger()
}

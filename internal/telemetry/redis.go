package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis instruments a client with tracing, metrics and debug logs tagged with its role,
// e.g. "store" or "pubsub".
func MonitorRedis(r redis.UniversalClient, role string) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return err
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return err
	}
	r.AddHook(redisLog{role: role})
	return nil
}

type redisLog struct {
	role string
}

func (l redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		if err != nil {
			slog.ErrorContext(ctx, "redis: dial failed", "role", l.role, "addr", addr, "error", err)
			return nil, err
		}
		slog.InfoContext(ctx, "redis: connected", "role", l.role, "addr", addr)
		return conn, nil
	}
}

func (l redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmd)
		l.log(ctx, cmd.Name(), 1, time.Since(start), err)
		return err
	}
}

func (l redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmds)
		l.log(ctx, "pipeline", len(cmds), time.Since(start), err)
		return err
	}
}

// log reports failures at error level. Misses and lost optimistic locks are normal traffic.
func (l redisLog) log(ctx context.Context, name string, n int, took time.Duration, err error) {
	if err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, redis.TxFailedErr) {
		slog.ErrorContext(ctx, "redis: command failed", "role", l.role, "cmd", name, "cmds", n, "took", took, "error", err)
		return
	}

	slog.DebugContext(ctx, "redis: command done", "role", l.role, "cmd", name, "cmds", n, "took", took)
}

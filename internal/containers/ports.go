package containers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordanhubbard/healloop/internal/logging"
)

// ErrNoFreePort is returned when no port in range could be acquired.
var ErrNoFreePort = errors.New("no free port in range")

const maxPortAttempts = 50

// PortAllocator hands out a host port for one round.
type PortAllocator interface {
	Acquire(ctx context.Context) (int, error)
	Release(ctx context.Context, port int)
}

// RandomPorts picks random ports in [Min, Max] that can currently be bound.
type RandomPorts struct {
	Min, Max int
}

func (p *RandomPorts) Acquire(ctx context.Context) (int, error) {
	if p.Max <= p.Min {
		return 0, fmt.Errorf("invalid port range %d-%d", p.Min, p.Max)
	}
	for i := 0; i < maxPortAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		port := p.Min + rand.IntN(p.Max-p.Min+1)
		if portFree(port) {
			return port, nil
		}
	}
	return 0, ErrNoFreePort
}

func (p *RandomPorts) Release(context.Context, int) {}

func portFree(port int) bool {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// RedisLeaser wraps a RandomPorts picker with a SET NX lease so separate
// processes on one host never hand out the same port while a round holds it.
type RedisLeaser struct {
	ports  *RandomPorts
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisLeaser connects to url (redis://host:port/db).
func NewRedisLeaser(ctx context.Context, url string, ports *RandomPorts, ttl time.Duration) (*RedisLeaser, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLeaser{ports: ports, client: client, ttl: ttl, prefix: "healloop:port:", logger: logging.New("containers")}, nil
}

func (l *RedisLeaser) Acquire(ctx context.Context) (int, error) {
	for i := 0; i < maxPortAttempts; i++ {
		port, err := l.ports.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		ok, err := l.client.SetNX(ctx, l.key(port), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
		if err != nil {
			return 0, fmt.Errorf("lease port %d: %w", port, err)
		}
		if ok {
			return port, nil
		}
	}
	return 0, ErrNoFreePort
}

// Release drops the lease early. If it fails the TTL expires it.
func (l *RedisLeaser) Release(ctx context.Context, port int) {
	if err := l.client.Del(ctx, l.key(port)).Err(); err != nil {
		l.logger.Debug("port lease release failed", "port", port, "error", err)
	}
}

func (l *RedisLeaser) Close() error { return l.client.Close() }

func (l *RedisLeaser) key(port int) string { return l.prefix + strconv.Itoa(port) }

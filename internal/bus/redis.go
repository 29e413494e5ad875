package bus

import (
	"context"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBus backs the shared fabric with go-redis/v8, the same client the
// teacher uses for websocket fanout (internal/websocket/handler.go) and
// refresh-token storage (internal/jwt/jwt_varriables.go).
type RedisBus struct {
	client *redis.Client
}

// NewRedis dials Redis and probes connectivity with a single PING. It
// does not itself decide on degraded-mode fallback; callers use Dial to
// get that behavior, per spec.md §4.3.
func NewRedis(ctx context.Context, dsn string) (*RedisBus, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		opts = &redis.Options{Addr: dsn}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisBus{client: client}, nil
}

// Dial attempts to connect to Redis; on failure it logs and falls back
// to an in-process bus so a single-node deployment keeps working, per
// spec.md §4.3. It also starts a background reconnect watchdog that
// retries with exponential backoff capped at 2s.
func Dial(ctx context.Context, dsn string) Bus {
	redisBus, err := NewRedis(ctx, dsn)
	if err == nil {
		go redisBus.watchConnection(dsn)
		return redisBus
	}

	log.Printf("bus: redis unavailable (%v), falling back to single-node in-process bus", err)
	local := NewLocal()
	go attemptReconnect(dsn, local)
	return local
}

// watchConnection pings periodically and logs if the connection drops;
// go-redis reconnects its pool transparently, so this only provides
// visibility, not a swap to a different Bus implementation.
func (r *RedisBus) watchConnection(dsn string) {
	backoff := 250 * time.Millisecond
	const maxBackoff = 2 * time.Second

	for {
		time.Sleep(backoff)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := r.client.Ping(ctx).Err()
		cancel()

		if err != nil {
			log.Printf("bus: redis ping failed (%v), retrying in %s", err, backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 250 * time.Millisecond
	}
}

// attemptReconnect is the degraded-mode recovery path: it periodically
// retries dialing Redis but does not migrate live subscriptions onto a
// newly available client, since SPEC_FULL scope only requires the
// process to keep serving in single-node mode until restart.
func attemptReconnect(dsn string, fallback *LocalBus) {
	backoff := 250 * time.Millisecond
	const maxBackoff = 2 * time.Second

	for {
		time.Sleep(backoff)
		if fallback.Closed() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := NewRedis(ctx, dsn)
		cancel()
		if err == nil {
			log.Printf("bus: redis reachable again; restart this process to rejoin the shared bus")
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (r *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.client.Publish(ctx, topic, payload).Err()
}

func (r *RedisBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, topics...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}
		}
	}()

	return &redisSubscription{pubsub: pubsub, out: out}, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
}

func (s *redisSubscription) Channel() <-chan Message { return s.out }
func (s *redisSubscription) Close() error            { return s.pubsub.Close() }

func (r *RedisBus) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisBus) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisBus) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisBus) AddToSet(ctx context.Context, key, member string) error {
	return r.client.SAdd(ctx, key, member).Err()
}

func (r *RedisBus) RemoveFromSet(ctx context.Context, key, member string) error {
	return r.client.SRem(ctx, key, member).Err()
}

func (r *RedisBus) SetMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

// incrScript atomically increments key and, only on the increment that
// creates it, sets its expiry, so a rate-limit window's TTL survives the
// whole window instead of being refreshed by every hit. Grounded on the
// same Lua-script-via-redis.NewScript pattern the pack's rate limiter
// middleware uses for its sliding-window ZSET.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if tonumber(count) == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

func (r *RedisBus) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return incrScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Int64()
}

func (r *RedisBus) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBus) Close() error {
	return r.client.Close()
}

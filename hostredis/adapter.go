// Package hostredis implements worker.BlockedClient, router.KeyStore and replication.Transport on top
// of github.com/redis/go-redis/v9, reusing the module's redis.Client wrapper as the underlying
// connection, per spec.md §4.I.
package hostredis

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sqlmodule/sqlmodule/logging"
	"github.com/sqlmodule/sqlmodule/redis"
	"github.com/sqlmodule/sqlmodule/router"
)

// InboxListKey is the Redis list standing in for the host server's own command inbox; sqlmoduled reads
// commands from it with BLPop, the module-process analogue of "the host server's request thread".
const InboxListKey = "sqlmodule:commands"

// ReplicationListKey is the Redis list replica processes and an AOF-writer goroutine drain, replacing
// the native replication stream and AOF named out of scope in spec.md §1.
const ReplicationListKey = "sqlmodule:replicate"

// fieldSeparator joins a command's tokenized fields into one list element, since a Redis list holds
// plain strings rather than nested arrays.
const fieldSeparator = "\x1f"

var ErrNoCommand = errors.New("no command available")

// Reply is what a pending request eventually receives: either a reply value or an error, never both.
type Reply struct {
	Value router.ReplyValue
	Err   error
}

// Adapter is the host-facing connection: a dial target for commands, replies, stream appends and
// replication, all multiplexed over one redis.Client.
type Adapter struct {
	Client *redis.Client
	logger *logging.Logger

	mu      sync.Mutex
	pending map[string]chan Reply
}

// Dial opens a redis.Client from cfg and wraps it as an Adapter, the concrete realisation of
// "logging -> hostredis.Dial -> dbkey.Registry" from spec.md §4.N.
func Dial(cfg *redis.Config, logger *logging.Logger) (*Adapter, error) {
	client, err := redis.NewClientFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewAdapter(client, logger), nil
}

// NewAdapter wraps a pre-existing redis.Client.
func NewAdapter(client *redis.Client, logger *logging.Logger) *Adapter {
	return &Adapter{Client: client, logger: logger, pending: make(map[string]chan Reply)}
}

// RequestClient returns a router.BlockedClient bound to id and the channel its eventual Reply/Error
// call delivers to, the in-process stand-in for "registering a blocked-client handle" from spec.md §2.
func (a *Adapter) RequestClient(id string) (*RequestClient, <-chan Reply) {
	ch := make(chan Reply, 1)

	a.mu.Lock()
	a.pending[id] = ch
	a.mu.Unlock()

	return &RequestClient{adapter: a, id: id}, ch
}

// RequestClient implements router.BlockedClient for one in-flight request id.
type RequestClient struct {
	adapter *Adapter
	id      string
}

func (c *RequestClient) Reply(v router.ReplyValue) { c.adapter.deliver(c.id, Reply{Value: v}) }
func (c *RequestClient) Error(err error)           { c.adapter.deliver(c.id, Reply{Err: err}) }

func (a *Adapter) deliver(id string, r Reply) {
	a.mu.Lock()
	ch, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()

	if ok {
		ch <- r
		close(ch)
	}
}

// PopCommand blocks up to timeout for the next command on InboxListKey, returning ErrNoCommand if none
// arrived in time.
func (a *Adapter) PopCommand(ctx context.Context, timeout time.Duration) (id string, fields []string, err error) {
	result, err := a.Client.BLPop(ctx, timeout, InboxListKey).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil, ErrNoCommand
	}
	if err != nil {
		return "", nil, errors.Wrap(err, "can't read from command inbox")
	}

	// result is [key, value]; BLPop's first return is the key it popped from.
	if len(result) < 2 {
		return "", nil, errors.New("malformed BLPOP reply")
	}

	return decodeCommand(result[1])
}

// PushCommand encodes and pushes a command onto InboxListKey, used by test harnesses and the CLI's own
// loopback tooling.
func (a *Adapter) PushCommand(ctx context.Context, id string, fields []string) error {
	cmd := a.Client.RPush(ctx, InboxListKey, encodeCommand(id, fields))
	if err := cmd.Err(); err != nil {
		return redis.WrapCmdErr(cmd)
	}
	return nil
}

func encodeCommand(id string, fields []string) string {
	return id + fieldSeparator + strings.Join(fields, fieldSeparator)
}

func decodeCommand(raw string) (id string, fields []string, err error) {
	parts := strings.Split(raw, fieldSeparator)
	if len(parts) == 0 || parts[0] == "" {
		return "", nil, errors.New("malformed command: missing request id")
	}
	return parts[0], parts[1:], nil
}

// StreamAdd implements router.KeyStore by appending fields to a Redis stream.
func (a *Adapter) StreamAdd(ctx context.Context, stream string, fields map[string]string) (string, error) {
	cmd := a.Client.XAdd(ctx, &goredis.XAddArgs{Stream: stream, Values: fields})
	id, err := cmd.Result()
	if err != nil {
		return "", redis.WrapCmdErr(cmd)
	}
	return id, nil
}

// Yield implements router.KeyStore's scoped "release and reacquire the global lock" hook. There is no
// process-wide lock once the module is its own OS process (spec.md §4.I/§5's amendment), so this is a
// context-checked scheduling point plus a cheap round trip to bound latency against the host.
func (a *Adapter) Yield(ctx context.Context) {
	if err := a.Client.Ping(ctx).Err(); err != nil && a.logger != nil {
		a.logger.Debugw("yield ping failed", "error", err)
	}
	runtime.Gosched()
}

// Replicate implements replication.Transport by pushing the verb and its arguments onto
// ReplicationListKey, the Redis-native equivalent of a native replication stream.
func (a *Adapter) Replicate(ctx context.Context, verb string, args []string) error {
	cmd := a.Client.RPush(ctx, ReplicationListKey, encodeCommand(verb, args))
	if err := cmd.Err(); err != nil {
		return redis.WrapCmdErr(cmd)
	}
	return nil
}

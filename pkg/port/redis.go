// Glimpse exposes its image cache over the Redis protocol, so that any Redis client can preload, record, and list
// image URIs of a running daemon.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/nobletooth/glimpse/pkg/scan"
	"github.com/nobletooth/glimpse/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var (
	address = flag.String("address", ":6390", "The ip:port to listen on for Redis protocol.")

	commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_commands_total",
		Help: "Total number of Redis commands handled.",
	}, []string{"command", "status" /* ok | error */})
)

// supportedCommands bounds the values of the `command` metric label.
var supportedCommands = []string{"PING", "QUIT", "PRELOAD", "ADD", "EXISTS", "DBSIZE", "FLUSHALL", "CLEAR", "KEYS"}

// ImageTracker is the part of the image cache served over the Redis protocol.
type ImageTracker interface {
	AddToCache(uri string)
	PreloadImages(ctx context.Context, uris []string) error
	Contains(uri string) bool
	Size() int
	ClearCache()
	Entries() iter.Seq[utils.Pair[string /*uri*/, time.Time /*insertedAt*/]]
}

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	isArray         bool     // Writes `writeArray` as an array of bulk strings if true.
	writeArray      []string // May be empty.
	writeString     string   // Writes a string value if set.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisArray(items []string) redisOutput {
	return redisOutput{writeArray: items, isArray: true}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArity(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

type redisHandler struct {
	images ImageTracker
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(images ImageTracker) (*redisHandler, error) {
	if images == nil {
		return nil, errors.New("expected a non-nil image cache")
	}
	return &redisHandler{images: images}, nil
}

func (rh *redisHandler) handle(ctx context.Context, cmd redisCommand) redisOutput {
	switch command := strings.ToUpper(cmd.command); command {
	case "PING":
		return writeRedisString("PONG")
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "PRELOAD":
		if len(cmd.args) < 1 {
			return wrongArity(command)
		}
		if err := rh.images.PreloadImages(ctx, cmd.args); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "ADD":
		if len(cmd.args) < 1 {
			return wrongArity(command)
		}
		for _, uri := range cmd.args {
			rh.images.AddToCache(uri)
		}
		return writeRedisString(RedisOk)
	case "EXISTS":
		if len(cmd.args) < 1 {
			return wrongArity(command)
		}
		existing := 0
		for _, uri := range cmd.args {
			if rh.images.Contains(uri) {
				existing++
			}
		}
		return writeRedisInt(existing)
	case "DBSIZE":
		if len(cmd.args) != 0 {
			return wrongArity(command)
		}
		return writeRedisInt(rh.images.Size())
	case "FLUSHALL", "CLEAR":
		if len(cmd.args) != 0 {
			return wrongArity(command)
		}
		rh.images.ClearCache()
		return writeRedisString(RedisOk)
	case "KEYS":
		if len(cmd.args) != 1 {
			return wrongArity(command)
		}
		return writeRedisArray(scan.MatchingKeys(cmd.args[0], rh.images.Entries()))
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// writeRedisOutput writes `output` to `conn`, closing it if asked to.
func writeRedisOutput(conn redcon.Conn, output redisOutput) {
	switch {
	case output.err != nil:
		conn.WriteError(*output.err)
	case output.writeInt != nil:
		conn.WriteInt(*output.writeInt)
	case output.isArray:
		conn.WriteArray(len(output.writeArray))
		for _, item := range output.writeArray {
			conn.WriteBulkString(item)
		}
	default:
		conn.WriteString(output.writeString)
	}
	if output.closeConnection {
		if err := conn.Close(); err != nil {
			slog.Error("Failed to close connection.", "error", err)
		}
	}
}

// newRedisServer builds a Redis protocol server on `addr`, handling commands with `handler` until `ctx` is done.
func newRedisServer(ctx context.Context, addr string, handler *redisHandler) *redcon.Server {
	return redcon.NewServerNetwork("tcp" /*net*/, addr,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			// Convert redcon.Command to redisCommand.
			command := redisCommand{command: string(cmd.Args[0]), args: make([]string, len(cmd.Args)-1)}
			for i := 1; i < len(cmd.Args); i++ {
				command.args[i-1] = string(cmd.Args[i])
			}
			output := handler.handle(ctx, command)
			status := "ok"
			if output.err != nil {
				status = "error"
			}
			commandLabel := strings.ToUpper(command.command)
			if !slices.Contains(supportedCommands, commandLabel) {
				commandLabel = "UNKNOWN"
			}
			commands.WithLabelValues(commandLabel, status).Inc()
			writeRedisOutput(conn, output)
		},
		/*accept*/ func(conn redcon.Conn) bool {
			return true // Accept all connections.
		},
		/*closed*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Redis connection closed with error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})
}

// RunRedisServer starts a Redis protocol server serving the given image cache. It blocks until `ctx` is done.
func RunRedisServer(ctx context.Context, images ImageTracker) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	redisHandler, err := newRedisHandler(images)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}
	redisServer := newRedisServer(ctx, *address, redisHandler)

	serverErrSignal := make(chan error, 1)
	go func() {
		if err := redisServer.ListenAndServe(); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()
	slog.Info("Serving the image cache over the Redis protocol.", "address", *address)

	select {
	case <-ctx.Done():
		if err := redisServer.Close(); err != nil {
			return fmt.Errorf("failed to close glimpse: %w", err)
		}
	case err := <-serverErrSignal:
		return fmt.Errorf("redis server stopped unexpectedly: %w", err)
	}

	return nil // Exited with no errors.
}

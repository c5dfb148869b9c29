package port

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nobletooth/glimpse/pkg/config"
	"github.com/nobletooth/glimpse/pkg/imagecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const brokenURI = "https://cdn.example.com/broken.jpg"

func newTestHandler(t *testing.T) (*redisHandler, *imagecache.ImageCache) {
	t.Helper()
	imageCache := imagecache.NewImageCache(3, imagecache.PrefetchFunc(func(_ context.Context, uri string) error {
		if uri == brokenURI {
			return errors.New("404")
		}
		return nil
	}))
	handler, err := newRedisHandler(imageCache)
	require.NoError(t, err)
	return handler, imageCache
}

func errorOf(output redisOutput) string {
	if output.err == nil {
		return ""
	}
	return *output.err
}

func TestNewRedisHandler_NilCache(t *testing.T) {
	_, err := newRedisHandler(nil)
	assert.Error(t, err)
}

func TestRedisHandler_Basics(t *testing.T) {
	handler, _ := newTestHandler(t)
	ctx := context.Background()

	assert.Equal(t, writeRedisString("PONG"), handler.handle(ctx, redisCommand{command: "ping"}))
	assert.Equal(t, closeRedisConnection(RedisOk), handler.handle(ctx, redisCommand{command: "QUIT"}))
	assert.Equal(t, "ERR unknown command 'GETSET'", errorOf(handler.handle(ctx, redisCommand{command: "GETSET"})))
}

func TestRedisHandler_Arity(t *testing.T) {
	handler, _ := newTestHandler(t)
	for _, testCase := range []struct {
		name     string
		command  redisCommand
		expected string
	}{
		{name: "preload", command: redisCommand{command: "PRELOAD"}, expected: "preload"},
		{name: "add", command: redisCommand{command: "add"}, expected: "add"},
		{name: "exists", command: redisCommand{command: "EXISTS"}, expected: "exists"},
		{name: "dbsize", command: redisCommand{command: "DBSIZE", args: []string{"x"}}, expected: "dbsize"},
		{name: "flushall", command: redisCommand{command: "FLUSHALL", args: []string{"x"}}, expected: "flushall"},
		{name: "keys", command: redisCommand{command: "KEYS", args: []string{"a", "b"}}, expected: "keys"},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			output := handler.handle(context.Background(), testCase.command)
			assert.Equal(t, "ERR wrong number of arguments for '"+testCase.expected+"' command", errorOf(output))
		})
	}
}

func TestRedisHandler_ImageCommands(t *testing.T) {
	handler, imageCache := newTestHandler(t)
	ctx := context.Background()

	assert.Equal(t, writeRedisString(RedisOk), handler.handle(ctx, redisCommand{command: "ADD", args: []string{"a"}}))
	assert.Equal(t, writeRedisString(RedisOk), handler.handle(ctx, redisCommand{command: "PRELOAD", args: []string{"b"}}))
	assert.Equal(t, writeRedisInt(2), handler.handle(ctx, redisCommand{command: "DBSIZE"}))
	assert.Equal(t, writeRedisInt(1), handler.handle(ctx, redisCommand{command: "EXISTS", args: []string{"a", "zzz"}}))
	assert.Equal(t, writeRedisArray([]string{"a", "b"}), handler.handle(ctx, redisCommand{command: "KEYS", args: []string{"*"}}))
	assert.Equal(t, writeRedisArray([]string{}), handler.handle(ctx, redisCommand{command: "KEYS", args: []string{"c*"}}))

	output := handler.handle(ctx, redisCommand{command: "PRELOAD", args: []string{"c", brokenURI}})
	assert.Contains(t, errorOf(output), "ERR ")
	assert.Contains(t, errorOf(output), brokenURI)
	assert.Equal(t, []string{"a", "b", "c"}, imageCache.URIs(), "Successful preloads of a failed batch are kept")

	assert.Equal(t, writeRedisString(RedisOk), handler.handle(ctx, redisCommand{command: "CLEAR"}))
	assert.Zero(t, imageCache.Size())
}

func TestRedisHandler_KeysWithURIPattern(t *testing.T) {
	handler, _ := newTestHandler(t)
	ctx := context.Background()
	uris := []string{
		"https://cdn.example.com/banners/1.jpg",
		"https://cdn.example.com/avatars/1.jpg",
		"https://cdn.example.com/banners/2.png",
	}
	require.Equal(t, writeRedisString(RedisOk), handler.handle(ctx, redisCommand{command: "ADD", args: uris}))

	for _, testCase := range []struct {
		name     string
		pattern  string
		expected []string
	}{
		{name: "directory", pattern: "https://cdn.example.com/banners/*", expected: []string{uris[0], uris[2]}},
		{name: "extension", pattern: "https://*/*/*.jpg", expected: []string{uris[0], uris[1]}},
		{name: "recursive", pattern: "https://cdn.example.com/...", expected: uris},
		{name: "other_scheme", pattern: "http://cdn.example.com/...", expected: []string{}},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			output := handler.handle(ctx, redisCommand{command: "KEYS", args: []string{testCase.pattern}})
			assert.Equal(t, writeRedisArray(testCase.expected), output)
		})
	}
}

func TestRunRedisServer_EmptyAddress(t *testing.T) {
	_, imageCache := newTestHandler(t)
	config.SetTestFlag(t, "address", "")
	assert.Error(t, RunRedisServer(context.Background(), imageCache))
}

func TestRedisServer_OverTCP(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := newRedisServer(context.Background(), "127.0.0.1:0", handler)
	listening := make(chan error, 1)
	go func() { _ = server.ListenServeAndSignal(listening) }()
	require.NoError(t, <-listening)
	t.Cleanup(func() { _ = server.Close() })

	conn, err := net.DialTimeout("tcp", server.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	reader := bufio.NewReader(conn)
	roundTrip := func(request string, replyLines int) []string {
		_, err := conn.Write([]byte(request))
		require.NoError(t, err)
		lines := make([]string, 0, replyLines)
		for range replyLines {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			lines = append(lines, line)
		}
		return lines
	}

	assert.Equal(t, []string{"+PONG\r\n"}, roundTrip("*1\r\n$4\r\nPING\r\n", 1))
	assert.Equal(t, []string{"+OK\r\n"}, roundTrip("*3\r\n$3\r\nADD\r\n$5\r\nimg/a\r\n$5\r\nimg/b\r\n", 1))
	assert.Equal(t, []string{":2\r\n"}, roundTrip("*1\r\n$6\r\nDBSIZE\r\n", 1))
	assert.Equal(t, []string{"*1\r\n", "$5\r\n", "img/b\r\n"}, roundTrip("*2\r\n$4\r\nKEYS\r\n$3\r\n*/b\r\n", 3))
	assert.Equal(t, []string{"-ERR unknown command 'NOPE'\r\n"}, roundTrip("*1\r\n$4\r\nNOPE\r\n", 1))
	assert.Equal(t, []string{"+OK\r\n"}, roundTrip("*1\r\n$4\r\nQUIT\r\n", 1))
}

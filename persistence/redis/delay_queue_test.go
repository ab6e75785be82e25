package redis

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayQueue(t *testing.T) {
	if os.Getenv("REDIS_TESTS") == "" {
		t.Skip("set REDIS_TESTS to run tests against a local redis")
	}
	for scenario, fn := range map[string]func(
		t *testing.T, queue *redisDelayQueue,
	){
		"test push with zero delay": testPushPop,
		"test push with delay":      testPushPopDelay,
	} {
		t.Run(scenario, func(t *testing.T) {
			conf := &Config{
				Addrs:     []string{"localhost:6379"},
				Namespace: "test",
			}
			queue := NewRedisDelayQueue(*conf)

			fn(t, queue)
		})
	}
}

func testPushPop(t *testing.T, queue *redisDelayQueue) {
	err := queue.PushWithDelay("test-delay", 0, []byte("test_msg1"))
	require.NoError(t, err)
	time.Sleep(1 * time.Second)

	res, err := queue.Pop("test-delay")
	require.NoError(t, err)
	require.Equal(t, "test_msg1", res[0])

	res, err = queue.Pop("test-delay")
	require.NoError(t, err)
	require.Empty(t, res)
}

func testPushPopDelay(t *testing.T, queue *redisDelayQueue) {
	err := queue.PushWithDelay("test-delay", 5*time.Second, []byte("test_msg2"))
	require.NoError(t, err)

	time.Sleep(1 * time.Second)
	res, err := queue.Pop("test-delay")
	require.NoError(t, err)
	require.Empty(t, res)

	time.Sleep(5 * time.Second)
	res, err = queue.Pop("test-delay")
	require.NoError(t, err)
	require.Equal(t, "test_msg2", res[0])
}

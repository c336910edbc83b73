// Package redisstore implements the shared-store repositories on Redis.
// Every cross-instance guarantee the engine relies on comes from the
// primitives here: WATCH/MULTI compare-and-swap on request hashes, atomic
// ZPOPMIN/ZREM on the queue and deadline sorted sets, and SET NX markers.
package redisstore

import (
	"fmt"
	"strings"

	"github.com/codepair/matching-service/internal/domain"
)

const keyPrefix = "match:"

func requestKey(reqID string) string {
	return keyPrefix + "req:" + reqID
}

func queueKey(difficulty domain.Difficulty) string {
	return keyPrefix + "queue:" + string(difficulty)
}

func deadlinesKey() string {
	return keyPrefix + "deadlines"
}

func activeUserKey(userID string) string {
	return keyPrefix + "active:" + userID
}

func streamKey(reqID string) string {
	return keyPrefix + "stream:" + reqID
}

func eventsChannel(reqID string) string {
	return keyPrefix + "events:" + reqID
}

func triggerChannel() string {
	return keyPrefix + "trigger"
}

// deadlineMember encodes (reqID, difficulty) as a single sorted-set member.
// Request ids are UUIDs, so "/" never appears in them.
func deadlineMember(reqID string, difficulty domain.Difficulty) string {
	return reqID + "/" + string(difficulty)
}

func parseDeadlineMember(member string) (reqID string, difficulty domain.Difficulty, err error) {
	i := strings.LastIndex(member, "/")
	if i <= 0 || i == len(member)-1 {
		return "", "", fmt.Errorf("malformed deadline member %q", member)
	}
	return member[:i], domain.Difficulty(member[i+1:]), nil
}

package router

import (
	"strconv"
	"time"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/mapping"
)

const separator = '\n'

// Transform builds the stream payload for one mapping entry:
// "<unix ms>\n" when AppendTime is set, then "<topic>\n" when AppendTopic
// is set, then the original payload.
func Transform(e mapping.Entry, topic string, payload []byte, now time.Time) []byte {
	if !e.AppendTime && !e.AppendTopic {
		return payload
	}

	size := len(payload)
	if e.AppendTime {
		size += 21
	}
	if e.AppendTopic {
		size += len(topic) + 1
	}

	out := make([]byte, 0, size)
	if e.AppendTime {
		out = strconv.AppendInt(out, now.UnixMilli(), 10)
		out = append(out, separator)
	}
	if e.AppendTopic {
		out = append(out, topic...)
		out = append(out, separator)
	}

	return append(out, payload...)
}

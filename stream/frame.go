package stream

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/marketflow/tvstream/types"
)

// Wire framing. Data frames wrap one JSON payload between length markers;
// heartbeat frames carry a bare counter and must be echoed byte-for-byte.
// ex. data frame: ~m~52~m~{"m":"quote_create_session","p":["qs_x7k2m9pq4t1n"]}
// ex. heartbeat:  ~h~12
const (
	frameMarker     = "~m~"
	heartbeatMarker = "~h~"
)

var (
	dataHeaderRegex      = regexp.MustCompile(`^~m~(\d+)~m~`)
	heartbeatHeaderRegex = regexp.MustCompile(`^~h~(\d+)`)
)

// Frame is one atomic unit on the transport.
type Frame struct {
	Payload   []byte // JSON body of a data frame; nil for heartbeats
	Heartbeat bool
	Raw       []byte // exact received bytes, retained for heartbeat echo
}

// encodeFrame wraps a payload into a single data frame.
func encodeFrame(payload []byte) []byte {
	header := frameMarker + strconv.Itoa(len(payload)) + frameMarker
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	return append(out, payload...)
}

// decodeFrames splits one transport read into frames. Reads may carry
// several concatenated frames; any unrecognized or truncated header is a
// framing violation and poisons the whole read.
func decodeFrames(data []byte) ([]Frame, error) {
	var frames []Frame
	for len(data) > 0 {
		if m := dataHeaderRegex.FindSubmatch(data); m != nil {
			size, err := strconv.Atoi(string(m[1]))
			if err != nil {
				return nil, fmt.Errorf("%w: bad frame length %q", types.ErrTransport, m[1])
			}
			total := len(m[0]) + size
			if len(data) < total {
				return nil, fmt.Errorf("%w: truncated frame: want %d payload bytes, have %d",
					types.ErrTransport, size, len(data)-len(m[0]))
			}
			frame := Frame{
				Payload: data[len(m[0]):total],
				Raw:     data[:total],
			}
			// Heartbeats may travel wrapped in a data frame; the echo
			// must still return the exact received bytes.
			if hb := heartbeatHeaderRegex.Find(frame.Payload); len(hb) == len(frame.Payload) && len(hb) > 0 {
				frame.Heartbeat = true
				frame.Payload = nil
			}
			frames = append(frames, frame)
			data = data[total:]
			continue
		}

		if m := heartbeatHeaderRegex.Find(data); m != nil {
			frames = append(frames, Frame{
				Heartbeat: true,
				Raw:       data[:len(m)],
			})
			data = data[len(m):]
			continue
		}

		return nil, fmt.Errorf("%w: unrecognized frame header %q", types.ErrTransport, truncateForLog(data))
	}
	return frames, nil
}

func truncateForLog(bz []byte) string {
	const max = 24
	if len(bz) > max {
		return string(bz[:max]) + "..."
	}
	return string(bz)
}

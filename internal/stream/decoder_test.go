package stream

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multiFramePayload = "data: {\"message\":\"Bonjour é\"}\n\n" +
	"event: ping\n" +
	"data: {\"kind\":\"tool_call\",\"operation_id\":\"op_1\",\"status\":\"pending\",\"message\":\"run ✅ 日本\"}\r\n" +
	": keep-alive\n" +
	"data: {\"role\":\"information\",\"content\":\"compressing…\"}\n\n" +
	"data: {\"message\":\"done\",\"finish_reason\":\"stop\"}\n"

func decodeAll(chunks [][]byte) []Frame {
	d := NewDecoder()
	var frames []Frame
	for _, c := range chunks {
		frames = append(frames, d.Feed(c)...)
	}
	if f, ok := d.Flush(); ok {
		frames = append(frames, f)
	}
	return frames
}

func split(payload []byte, sizes []int) [][]byte {
	var chunks [][]byte
	i := 0
	for _, n := range sizes {
		if i >= len(payload) {
			break
		}
		end := min(i+n, len(payload))
		chunks = append(chunks, payload[i:end])
		i = end
	}
	if i < len(payload) {
		chunks = append(chunks, payload[i:])
	}
	return chunks
}

func TestDecoder_WholePayload(t *testing.T) {
	frames := decodeAll([][]byte{[]byte(multiFramePayload)})

	require.Len(t, frames, 4)
	assert.Equal(t, `data: {"message":"Bonjour é"}`, frames[0].Raw)
	assert.Equal(t, 1, frames[0].Index)
	assert.Contains(t, frames[1].Raw, "日本")
	assert.NotContains(t, frames[1].Raw, "\r")
	assert.Equal(t, 4, frames[3].Index)
}

func TestDecoder_KeepsPartialLine(t *testing.T) {
	d := NewDecoder()

	frames := d.Feed([]byte(`data: {"message":"he`))
	assert.Empty(t, frames)
	assert.Positive(t, d.Buffered())

	frames = d.Feed([]byte("llo\"}\ndata: {\"mess"))
	require.Len(t, frames, 1)
	assert.Equal(t, `data: {"message":"hello"}`, frames[0].Raw)
}

func TestDecoder_SplitMultiByteRune(t *testing.T) {
	d := NewDecoder()
	line := []byte("data: {\"message\":\"✅\"}\n")
	// split inside the three-byte check mark
	cut := len("data: {\"message\":\"") + 1

	assert.Empty(t, d.Feed(line[:cut]))
	frames := d.Feed(line[cut:])

	require.Len(t, frames, 1)
	assert.Equal(t, "data: {\"message\":\"✅\"}", frames[0].Raw)
}

func TestDecoder_InvalidBytesBecomeReplacement(t *testing.T) {
	d := NewDecoder()
	frames := d.Feed([]byte("data: {\"message\":\"a\xffb\"}\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "data: {\"message\":\"a�b\"}", frames[0].Raw)
}

func TestDecoder_FlushLeftover(t *testing.T) {
	d := NewDecoder()
	assert.Empty(t, d.Feed([]byte(`data: {"message":"tail"}`)))

	f, ok := d.Flush()
	require.True(t, ok)
	assert.Equal(t, `data: {"message":"tail"}`, f.Raw)

	_, ok = d.Flush()
	assert.False(t, ok, "flush must not emit the same frame twice")
}

func TestDecoder_FlushIgnoresNonDataLeftover(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("event: message"))

	_, ok := d.Flush()
	assert.False(t, ok)
}

func TestDecoder_FlushTruncatedRune(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("data: x\xe2\x9c"))

	f, ok := d.Flush()
	require.True(t, ok)
	assert.Equal(t, "data: x�", f.Raw)
}

func TestDecoder_ChunkBoundaryInvariance(t *testing.T) {
	payload := []byte(multiFramePayload)
	want := decodeAll([][]byte{payload})

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("any chunking yields the same frames", prop.ForAll(
		func(sizes []int) bool {
			got := decodeAll(split(payload, sizes))
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 24)),
	))

	properties.TestingRun(t)
}

func TestDecoder_ByteAtATime(t *testing.T) {
	payload := []byte(multiFramePayload)
	chunks := make([][]byte, 0, len(payload))
	for i := range payload {
		chunks = append(chunks, payload[i:i+1])
	}

	assert.Equal(t, decodeAll([][]byte{payload}), decodeAll(chunks))
}

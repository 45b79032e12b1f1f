package h3engine

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadFrameHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrameHeader(&buf, frameTypeHeaders, 42))

	frameType, length, err := readFrameHeader(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.EqualValues(t, frameTypeHeaders, frameType)
	assert.EqualValues(t, 42, length)
}

func TestReadFrameHeaderRejectsOverlongFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrameHeader(&buf, frameTypeHeaders, maxFrameHeaderLen+1))

	_, _, err := readFrameHeader(bufio.NewReader(&buf))
	assert.Error(t, err)
}

func TestWriteHeadersFrameWrapsPayload(t *testing.T) {
	var buf bytes.Buffer
	block := []byte("fake-qpack-block")
	require.NoError(t, writeHeadersFrame(&buf, block))

	frameType, length, err := readFrameHeader(bufio.NewReader(bytes.NewReader(buf.Bytes())))
	require.NoError(t, err)
	assert.EqualValues(t, frameTypeHeaders, frameType)
	assert.EqualValues(t, len(block), length)
}

func TestWriteTypedStreamHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTypedStreamHeader(&buf, streamTypeControl))
	assert.NotEmpty(t, buf.Bytes())
}

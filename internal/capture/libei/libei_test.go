package libei

import (
	"bufio"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEISClientHelloFraming(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	c := &eisClient{conn: client, w: bufio.NewWriter(client)}

	go func() { _ = c.writeFrame(eisOpHello, []byte(eisProtocolName)) }()

	header := make([]byte, 8)
	_, err := readFull(server, header)
	require.NoError(t, err)
	assert.Equal(t, uint32(eisOpHello), binary.BigEndian.Uint32(header[0:4]))
	length := binary.BigEndian.Uint32(header[4:8])

	payload := make([]byte, length)
	_, err = readFull(server, payload)
	require.NoError(t, err)
	assert.Equal(t, eisProtocolName, string(payload))
}

func TestEISClientSendKeyFraming(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	c := &eisClient{conn: client, w: bufio.NewWriter(client)}

	go func() { _ = c.sendKey(30, true) }()

	header := make([]byte, 8)
	_, err := readFull(server, header)
	require.NoError(t, err)
	assert.Equal(t, uint32(eisOpKey), binary.BigEndian.Uint32(header[0:4]))
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(header[4:8]))

	payload := make([]byte, 5)
	_, err = readFull(server, payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(30), binary.BigEndian.Uint32(payload[0:4]))
	assert.Equal(t, byte(1), payload[4])
}

func TestEISClientSendFrameHasNoPayload(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	c := &eisClient{conn: client, w: bufio.NewWriter(client)}

	go func() { _ = c.sendFrame() }()

	header := make([]byte, 8)
	_, err := readFull(server, header)
	require.NoError(t, err)
	assert.Equal(t, uint32(eisOpFrame), binary.BigEndian.Uint32(header[0:4]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(header[4:8]))
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

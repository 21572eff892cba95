package secure

import (
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"io"
	"sync"
	"testing"

	utls "github.com/refraction-networking/utls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueTransport is one end of an in-memory non-blocking byte stream.
type queueTransport struct {
	access   *sync.Mutex
	incoming *[]byte
	outgoing *[]byte
	peerEOF  *bool
	chunk    int
}

func newTransportPair(chunk int) (*queueTransport, *queueTransport) {
	var (
		access   sync.Mutex
		aToB     []byte
		bToA     []byte
		aEOF     bool
		bEOF     bool
		aToBView = &aToB
		bToAView = &bToA
	)
	a := &queueTransport{access: &access, incoming: bToAView, outgoing: aToBView, peerEOF: &bEOF, chunk: chunk}
	b := &queueTransport{access: &access, incoming: aToBView, outgoing: bToAView, peerEOF: &aEOF, chunk: chunk}
	return a, b
}

func (t *queueTransport) Read(p []byte) (int, error) {
	t.access.Lock()
	defer t.access.Unlock()
	if len(*t.incoming) == 0 {
		if *t.peerEOF {
			return 0, io.EOF
		}
		return 0, ErrWantRead
	}
	n := copy(p, *t.incoming)
	*t.incoming = (*t.incoming)[n:]
	return n, nil
}

func (t *queueTransport) Write(p []byte) (int, error) {
	t.access.Lock()
	defer t.access.Unlock()
	if t.chunk > 0 && len(p) > t.chunk {
		*t.outgoing = append(*t.outgoing, p[:t.chunk]...)
		return t.chunk, ErrWantWrite
	}
	*t.outgoing = append(*t.outgoing, p...)
	return len(p), nil
}

func newTestConfigs(t *testing.T) (*tls.Config, *tls.Config) {
	certificate, err := GenerateCertificate("example.org")
	require.NoError(t, err)
	serverConfig := &tls.Config{Certificates: []tls.Certificate{*certificate}}
	clientConfig := &tls.Config{ServerName: "example.org", InsecureSkipVerify: true}
	return serverConfig, clientConfig
}

func handshakePair(t *testing.T, client Session, server Session) {
	for i := 0; i < 100000; i++ {
		clientErr := client.Handshake()
		serverErr := server.Handshake()
		if clientErr == nil && serverErr == nil {
			return
		}
		if clientErr != nil && !IsRetry(clientErr) {
			t.Fatal("client handshake: ", clientErr)
		}
		if serverErr != nil && !IsRetry(serverErr) {
			t.Fatal("server handshake: ", serverErr)
		}
	}
	t.Fatal("handshake did not complete")
}

func readFull(t *testing.T, session Session, peer Session, size int) []byte {
	var output bytes.Buffer
	buffer := make([]byte, 4096)
	for i := 0; i < 100000 && output.Len() < size; i++ {
		require.NoError(t, peer.Flush())
		n, err := session.Read(buffer)
		output.Write(buffer[:n])
		if err != nil && !IsRetry(err) {
			t.Fatal("read: ", err)
		}
	}
	return output.Bytes()
}

func writeAll(t *testing.T, session Session, data []byte) {
	for i := 0; i < 100000 && len(data) > 0; i++ {
		n, err := session.Write(data)
		if err != nil && !IsRetry(err) {
			t.Fatal("write: ", err)
		}
		data = data[n:]
	}
	require.Empty(t, data)
}

func TestTLSSession(t *testing.T) {
	t.Parallel()
	serverConfig, clientConfig := newTestConfigs(t)
	clientTransport, serverTransport := newTransportPair(0)
	client := NewTLSClient(clientConfig)
	server := NewTLSServer(serverConfig)
	defer client.Close()
	defer server.Close()
	client.Attach(clientTransport)
	server.Attach(serverTransport)

	buffer := make([]byte, 16)
	_, err := client.Read(buffer)
	require.ErrorIs(t, err, ErrHandshakeIncomplete)
	_, err = client.Write([]byte("early"))
	require.ErrorIs(t, err, ErrHandshakeIncomplete)

	handshakePair(t, client, server)

	state, loaded := ConnectionState(client)
	require.True(t, loaded)
	require.True(t, state.HandshakeComplete)

	writeAll(t, client, []byte("ping"))
	require.Equal(t, []byte("ping"), readFull(t, server, client, 4))
	writeAll(t, server, []byte("pong"))
	require.Equal(t, []byte("pong"), readFull(t, client, server, 4))

	for i := 0; ; i++ {
		err = client.Shutdown()
		if err == nil {
			break
		}
		require.True(t, IsRetry(err))
		require.Less(t, i, 1000)
	}
	for i := 0; ; i++ {
		_, err = server.Read(buffer)
		if err == io.EOF {
			break
		}
		require.True(t, IsRetry(err), "unexpected error %v", err)
		require.Less(t, i, 1000)
	}
}

func transfer(t *testing.T, writer Session, reader Session, payload []byte) []byte {
	var output bytes.Buffer
	buffer := make([]byte, 32*1024)
	pending := payload
	for i := 0; i < 1000000 && output.Len() < len(payload); i++ {
		var err error
		if len(pending) > 0 {
			var n int
			n, err = writer.Write(pending)
			pending = pending[n:]
		} else {
			err = writer.Flush()
		}
		if err != nil && !IsRetry(err) {
			t.Fatal("write: ", err)
		}
		n, err := reader.Read(buffer)
		if err != nil && !IsRetry(err) {
			t.Fatal("read: ", err)
		}
		output.Write(buffer[:n])
	}
	return output.Bytes()
}

func TestTLSSessionPartialTransport(t *testing.T) {
	t.Parallel()
	serverConfig, clientConfig := newTestConfigs(t)
	clientTransport, serverTransport := newTransportPair(7)
	client := NewTLSClient(clientConfig)
	server := NewTLSServer(serverConfig)
	defer client.Close()
	defer server.Close()
	client.Attach(clientTransport)
	server.Attach(serverTransport)
	handshakePair(t, client, server)

	payload := make([]byte, 32*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, transfer(t, client, server, payload))
}

func TestTLSHandshakeTruncated(t *testing.T) {
	t.Parallel()
	serverConfig, clientConfig := newTestConfigs(t)
	clientTransport, serverTransport := newTransportPair(0)
	client := NewTLSClient(clientConfig)
	server := NewTLSServer(serverConfig)
	defer client.Close()
	defer server.Close()
	client.Attach(clientTransport)
	server.Attach(serverTransport)

	require.ErrorIs(t, client.Handshake(), ErrWantRead)
	clientTransport.access.Lock()
	*serverTransport.incoming = (*serverTransport.incoming)[:10]
	*serverTransport.peerEOF = true
	clientTransport.access.Unlock()

	var err error
	for i := 0; i < 1000; i++ {
		err = server.Handshake()
		if !IsRetry(err) {
			break
		}
	}
	require.Error(t, err)
	require.False(t, IsRetry(err))
}

func TestUTLSClientSession(t *testing.T) {
	t.Parallel()
	serverConfig, _ := newTestConfigs(t)
	clientTransport, serverTransport := newTransportPair(0)
	helloID, loaded := ParseClientHelloID("golang")
	require.True(t, loaded)
	client := NewUTLSClient(&utls.Config{ServerName: "example.org", InsecureSkipVerify: true}, helloID)
	server := NewTLSServer(serverConfig)
	defer client.Close()
	defer server.Close()
	client.Attach(clientTransport)
	server.Attach(serverTransport)
	handshakePair(t, client, server)

	writeAll(t, client, []byte("hello utls"))
	require.Equal(t, []byte("hello utls"), readFull(t, server, client, 10))
}

func TestParseClientHelloID(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"", "chrome", "firefox", "safari", "ios", "edge", "randomized"} {
		_, loaded := ParseClientHelloID(name)
		assert.True(t, loaded, name)
	}
	_, loaded := ParseClientHelloID("netscape")
	assert.False(t, loaded)
}

func TestCloseUnblocksHandshake(t *testing.T) {
	t.Parallel()
	_, clientConfig := newTestConfigs(t)
	clientTransport, _ := newTransportPair(0)
	client := NewTLSClient(clientConfig)
	client.Attach(clientTransport)
	require.ErrorIs(t, client.Handshake(), ErrWantRead)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	require.Error(t, client.Handshake())
}

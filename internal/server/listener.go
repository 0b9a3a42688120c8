package server

import (
	"net"

	"google.golang.org/grpc/credentials"
)

// credentialedListener performs the credential handshake in Accept so a
// single gRPC server can serve endpoints with differing credentials. A
// failed handshake drops the connection and keeps accepting; only listener
// errors terminate the accept loop.
type credentialedListener struct {
	net.Listener
	creds credentials.TransportCredentials
	logf  func(string, ...any)
}

func newCredentialedListener(lis net.Listener, creds credentials.TransportCredentials, logf func(string, ...any)) net.Listener {
	return &credentialedListener{Listener: lis, creds: creds, logf: logf}
}

// Accept implements net.Listener.
func (l *credentialedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		secured, _, err := l.creds.ServerHandshake(conn)
		if err != nil {
			if l.logf != nil {
				l.logf("credential handshake with %v: %v", conn.RemoteAddr(), err)
			}
			_ = conn.Close()
			continue
		}
		return secured, nil
	}
}

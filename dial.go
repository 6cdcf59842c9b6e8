package protogen

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// BlockingDial is like grpc.DialContext except that it blocks until the
// connection is established or the context expires, and dial failures are
// returned to the caller instead of being retried in the background. A nil
// creds means plain-text HTTP/2.
func BlockingDial(ctx context.Context, network, address string, creds credentials.TransportCredentials, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	dialer := func(ctx context.Context, address string) (net.Conn, error) {
		return (&net.Dialer{}).DialContext(ctx, network, address)
	}
	opts = append(opts,
		grpc.WithTransportCredentials(creds),
		grpc.WithContextDialer(dialer),
		grpc.WithBlock(),
		grpc.WithReturnConnectionError(),
	)
	return grpc.DialContext(ctx, address, opts...)
}

// ClientTransportCredentials builds transport credentials for a client
// connection. If insecureSkipVerify is true, the server's certificate is not
// verified. Otherwise cacertFile, if present, supplies the trusted roots.
// certFile and keyFile, if present, supply a client certificate.
func ClientTransportCredentials(insecureSkipVerify bool, cacertFile, certFile, keyFile string) (credentials.TransportCredentials, error) {
	var tlsConf tls.Config

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("could not load client key pair: %v", err)
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}

	if insecureSkipVerify {
		tlsConf.InsecureSkipVerify = true
	} else if cacertFile != "" {
		b, err := os.ReadFile(cacertFile)
		if err != nil {
			return nil, fmt.Errorf("could not read ca certificate: %v", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(b) {
			return nil, fmt.Errorf("failed to append ca certificate")
		}
		tlsConf.RootCAs = certPool
	}

	return credentials.NewTLS(&tlsConf), nil
}

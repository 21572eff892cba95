package main

import (
	"context"
	"crypto/tls"
	"net/netip"
	"time"

	E "github.com/sagernet/oi/common/exceptions"
	"github.com/sagernet/oi/common/log"
	"github.com/sagernet/oi/reactor"
	"github.com/sagernet/oi/secure"
	"github.com/sagernet/oi/stream"

	utls "github.com/refraction-networking/utls"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type pingFlags struct {
	Server      string
	UnixPath    string
	Message     string
	TLS         bool
	ServerName  string
	Fingerprint string
	Timeout     time.Duration
	Verbose     bool
}

func newPingCommand() *cobra.Command {
	f := new(pingFlags)
	command := &cobra.Command{
		Use:   "ping",
		Short: "send a message to an echo server and wait for the reply",
		Run: func(cmd *cobra.Command, args []string) {
			err := ping(f)
			if err != nil {
				logrus.Fatal(err)
			}
		},
	}
	command.Flags().StringVarP(&f.Server, "server", "s", "", "Connect to a TCP address.")
	command.Flags().StringVarP(&f.UnixPath, "unix", "u", "", "Connect to a Unix socket path.")
	command.Flags().StringVarP(&f.Message, "message", "m", "ping", "Set the message to send.")
	command.Flags().BoolVar(&f.TLS, "tls", false, "Use TLS without certificate verification.")
	command.Flags().StringVar(&f.ServerName, "server-name", "localhost", "Set the TLS server name.")
	command.Flags().StringVar(&f.Fingerprint, "fingerprint", "", "Use a uTLS client hello fingerprint.")
	command.Flags().DurationVarP(&f.Timeout, "timeout", "t", 10*time.Second, "Give up after this long without progress.")
	command.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose mode.")
	return command
}

func newClientSession(f *pingFlags) (secure.Session, error) {
	if f.Fingerprint == "" {
		return secure.NewTLSClient(&tls.Config{
			ServerName:         f.ServerName,
			InsecureSkipVerify: true,
		}), nil
	}
	helloID, loaded := secure.ParseClientHelloID(f.Fingerprint)
	if !loaded {
		return nil, E.New("unknown fingerprint: ", f.Fingerprint)
	}
	return secure.NewUTLSClient(&utls.Config{
		ServerName:         f.ServerName,
		InsecureSkipVerify: true,
	}, helloID), nil
}

func ping(f *pingFlags) error {
	if f.Message == "" {
		return E.New("empty message")
	}
	log.SetVerbose(f.Verbose)
	loop, err := reactor.New()
	if err != nil {
		return E.Cause(err, "create loop")
	}
	defer loop.Close()

	var (
		received []byte
		result   error
		started  = time.Now()
	)
	socket := stream.NewSocket(stream.HandlerFuncs{
		Connect: func(socket *stream.Socket) {
			socket.WriteSimple([]byte(f.Message))
		},
		Read: func(socket *stream.Socket, data []byte) {
			received = append(received, data...)
			if len(received) >= len(f.Message) {
				socket.ScheduleClose()
			}
		},
		Error: func(socket *stream.Socket, err *stream.Error) {
			result = E.Errors(result, err)
		},
		Timeout: func(socket *stream.Socket) {
			result = E.Errors(result, E.New("timed out"))
		},
		Close: func(socket *stream.Socket) {
			loop.Stop()
		},
	}, f.Timeout)
	if f.TLS {
		session, err := newClientSession(f)
		if err != nil {
			return err
		}
		err = socket.SetSecureSession(session)
		if err != nil {
			return err
		}
	}
	err = socket.Attach(loop)
	if err != nil {
		return err
	}
	switch {
	case f.UnixPath != "":
		err = socket.OpenUnix(f.UnixPath)
	case f.Server != "":
		var addr netip.AddrPort
		addr, err = netip.ParseAddrPort(f.Server)
		if err != nil {
			return E.Cause(err, "parse server address")
		}
		err = socket.OpenTCP(addr)
	default:
		return E.New("missing server address or unix path")
	}
	if err != nil {
		return err
	}
	err = loop.Run(context.Background())
	if err != nil {
		return err
	}
	if result != nil {
		return result
	}
	if len(received) < len(f.Message) || string(received[:len(f.Message)]) != f.Message {
		return E.New("reply mismatch: ", string(received))
	}
	logrus.Info("reply from ", socket.RemoteAddr(), " in ", time.Since(started))
	return nil
}

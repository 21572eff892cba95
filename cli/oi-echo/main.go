package main

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sagernet/oi"
	E "github.com/sagernet/oi/common/exceptions"
	"github.com/sagernet/oi/common/log"
	"github.com/sagernet/oi/common/option"
	"github.com/sagernet/oi/reactor"
	"github.com/sagernet/oi/secure"
	"github.com/sagernet/oi/stream"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type flags struct {
	option.EchoOptions
	ConfigFile string
}

var logger = log.NewLogger("oi-echo")

func main() {
	f := new(flags)
	var timeout time.Duration
	var tlsEnabled bool
	var unixMode uint32

	command := &cobra.Command{
		Use:     "oi-echo",
		Short:   "event driven echo server",
		Version: oi.VersionStr,
		Run: func(cmd *cobra.Command, args []string) {
			f.Timeout = option.Duration(timeout)
			f.UnixMode = unixMode
			if tlsEnabled {
				f.TLS = &option.TLSOptions{Enabled: true}
			}
			err := run(f)
			if err != nil {
				logrus.Fatal(err)
			}
		},
	}

	command.Flags().StringVarP(&f.Listen, "listen", "l", "", "Listen on a TCP address.")
	command.Flags().StringVarP(&f.UnixPath, "unix", "u", "", "Listen on a Unix socket path.")
	command.Flags().Uint32Var(&unixMode, "unix-mode", 0, "Set the Unix socket file mode.")
	command.Flags().IntVarP(&f.MaxConnections, "max-connections", "n", 0, "Set the advertised connection limit.")
	command.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Close connections idle for this long.")
	command.Flags().BoolVar(&tlsEnabled, "tls", false, "Serve TLS with a generated certificate.")
	command.Flags().StringVarP(&f.ConfigFile, "config", "c", "", "Use a configuration file.")
	command.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose mode.")

	command.AddCommand(newPingCommand())

	err := command.Execute()
	if err != nil {
		logrus.Fatal(err)
	}
}

func run(f *flags) error {
	options := &f.EchoOptions
	if f.ConfigFile != "" {
		fileOptions, err := option.LoadEchoOptions(f.ConfigFile)
		if err != nil {
			return err
		}
		options.Merge(fileOptions)
	}
	err := options.Validate()
	if err != nil {
		return err
	}
	log.SetVerbose(options.Verbose)

	tlsConfig, err := newTLSConfig(options.TLS)
	if err != nil {
		return err
	}

	loop, err := reactor.New()
	if err != nil {
		return E.Cause(err, "create loop")
	}
	defer loop.Close()

	server := stream.NewServer(&echoServer{
		timeout:   options.Timeout.Build(),
		chunkSize: options.ReadChunkSize,
		tlsConfig: tlsConfig,
	}, options.MaxConnections)
	if options.UnixPath != "" {
		err = server.ListenUnix(options.UnixPath, os.FileMode(options.UnixMode))
	} else {
		err = server.ListenTCP(netip.MustParseAddrPort(options.Listen))
	}
	if err != nil {
		return err
	}
	defer server.Close()
	err = server.Attach(loop)
	if err != nil {
		return err
	}
	logger.Info("server started at ", server.Addr())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err = loop.Run(ctx)
	if err != nil && !E.IsClosed(err) && err != context.Canceled {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newTLSConfig(options *option.TLSOptions) (*tls.Config, error) {
	if options == nil || !options.Enabled {
		return nil, nil
	}
	var certificate tls.Certificate
	if options.CertificatePath != "" {
		loaded, err := tls.LoadX509KeyPair(options.CertificatePath, options.KeyPath)
		if err != nil {
			return nil, E.Cause(err, "load certificate")
		}
		certificate = loaded
	} else {
		serverName := options.ServerName
		if serverName == "" {
			serverName = "localhost"
		}
		generated, err := secure.GenerateCertificate(serverName)
		if err != nil {
			return nil, E.Cause(err, "generate certificate")
		}
		certificate = *generated
	}
	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		NextProtos:   options.ALPN,
	}, nil
}

type echoServer struct {
	timeout   time.Duration
	chunkSize int
	tlsConfig *tls.Config
}

func (s *echoServer) NewConnection(server *stream.Server, remote net.Addr) *stream.Socket {
	connLogger := logger.WithField("remote", remote)
	socket := stream.NewSocket(stream.HandlerFuncs{
		Connect: func(socket *stream.Socket) {
			connLogger.Debug("connected")
		},
		Read: func(socket *stream.Socket, data []byte) {
			socket.WriteSimple(data)
		},
		Error: func(socket *stream.Socket, err *stream.Error) {
			connLogger.Debug(err)
		},
		Close: func(socket *stream.Socket) {
			connLogger.Debug("closed after ", socket.Written(), " bytes")
		},
	}, s.timeout, stream.WithReadChunkSize(s.chunkSize), stream.WithLogger(connLogger))
	if s.tlsConfig != nil {
		err := socket.SetSecureSession(secure.NewTLSServer(s.tlsConfig))
		if err != nil {
			connLogger.Error(err)
			return nil
		}
	}
	return socket
}

func (s *echoServer) HandleError(server *stream.Server, err *stream.Error) {
	logger.Warn(err)
}

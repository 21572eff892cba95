package option

import (
	"encoding/json"
	"net/netip"
	"os"

	E "github.com/sagernet/oi/common/exceptions"
)

type EchoOptions struct {
	Listen         string      `json:"listen,omitempty"`
	UnixPath       string      `json:"unix_path,omitempty"`
	UnixMode       uint32      `json:"unix_mode,omitempty"`
	MaxConnections int         `json:"max_connections,omitempty"`
	Timeout        Duration    `json:"timeout,omitempty"`
	ReadChunkSize  int         `json:"read_chunk_size,omitempty"`
	TLS            *TLSOptions `json:"tls,omitempty"`
	Verbose        bool        `json:"verbose,omitempty"`
}

type TLSOptions struct {
	Enabled         bool     `json:"enabled,omitempty"`
	ServerName      string   `json:"server_name,omitempty"`
	CertificatePath string   `json:"certificate_path,omitempty"`
	KeyPath         string   `json:"key_path,omitempty"`
	ALPN            []string `json:"alpn,omitempty"`
}

func LoadEchoOptions(path string) (*EchoOptions, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, E.Cause(err, "read config file")
	}
	var options EchoOptions
	err = json.Unmarshal(content, &options)
	if err != nil {
		return nil, E.Cause(err, "decode config file")
	}
	return &options, nil
}

// Merge fills unset fields of o from other.
func (o *EchoOptions) Merge(other *EchoOptions) {
	if o.Listen == "" {
		o.Listen = other.Listen
	}
	if o.UnixPath == "" {
		o.UnixPath = other.UnixPath
	}
	if o.UnixMode == 0 {
		o.UnixMode = other.UnixMode
	}
	if o.MaxConnections == 0 {
		o.MaxConnections = other.MaxConnections
	}
	if o.Timeout == 0 {
		o.Timeout = other.Timeout
	}
	if o.ReadChunkSize == 0 {
		o.ReadChunkSize = other.ReadChunkSize
	}
	if o.TLS == nil {
		o.TLS = other.TLS
	}
	o.Verbose = o.Verbose || other.Verbose
}

func (o *EchoOptions) Validate() error {
	switch {
	case o.Listen == "" && o.UnixPath == "":
		return E.New("missing listen address or unix path")
	case o.Listen != "" && o.UnixPath != "":
		return E.New("listen address and unix path are exclusive")
	case o.MaxConnections < 0:
		return E.New("negative max connections")
	}
	if o.Listen != "" {
		_, err := netip.ParseAddrPort(o.Listen)
		if err != nil {
			return E.Cause(err, "parse listen address")
		}
	}
	if o.TLS != nil && o.TLS.Enabled && (o.TLS.CertificatePath == "") != (o.TLS.KeyPath == "") {
		return E.New("certificate and key must be set together")
	}
	return nil
}

// Package fetch downloads current camera snapshots from camera hosts over SFTP.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvr-ai/parking-occupancy/util"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// ErrAllHostsFailed is returned when no host could be fetched.
var ErrAllHostsFailed = errors.New("all camera hosts failed")

// Config contains the connection settings for camera hosts.
type Config struct {
	Hosts     []string      `mapstructure:"hosts"`
	Port      int           `mapstructure:"port"`
	User      string        `mapstructure:"user"`
	Password  string        `mapstructure:"password"`
	KeyFile   string        `mapstructure:"key_file"`
	RemoteDir string        `mapstructure:"remote_dir"`
	Dest      string        `mapstructure:"dest"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// Concurrency bounds the number of hosts fetched at once.
	Concurrency int `mapstructure:"concurrency"`
}

// DefaultConfig returns the default fetch configuration.
func DefaultConfig() Config {
	return Config{
		Port:        22,
		User:        "root",
		RemoteDir:   "/tmp/snapshots",
		Dest:        "currentImages",
		Timeout:     30 * time.Second,
		Concurrency: 4,
	}
}

// Session is an open file session on one host.
type Session interface {
	ReadDir(dir string) ([]os.FileInfo, error)
	Open(name string) (io.ReadCloser, error)
	Close() error
}

// Dialer opens a session on a host.
type Dialer func(ctx context.Context, host string) (Session, error)

// Result is the outcome of fetching one host.
type Result struct {
	Host  string
	Dir   string
	Files int
	Err   error
}

// Fetcher downloads snapshots from every configured host.
type Fetcher struct {
	config Config
	logger zerolog.Logger
	dial   Dialer
}

// New creates a fetcher that connects over SFTP.
func New(config Config, logger zerolog.Logger) *Fetcher {
	f := &Fetcher{config: config, logger: logger}
	f.dial = f.dialSFTP
	return f
}

// NewWithDialer creates a fetcher that opens sessions with dial.
func NewWithDialer(config Config, logger zerolog.Logger, dial Dialer) *Fetcher {
	return &Fetcher{config: config, logger: logger, dial: dial}
}

// HostDir returns the local directory for host under dest, with dots and
// colons replaced by underscores.
func HostDir(dest, host string) string {
	return filepath.Join(dest, strings.NewReplacer(".", "_", ":", "_").Replace(host))
}

// Fetch downloads the image files of RemoteDir from every host concurrently.
//
// Failing hosts are logged and reported in their Result. The call fails only
// when every host fails.
//
// Arguments:
//   - ctx: Cancels outstanding connections and transfers.
//
// Returns:
//   - []Result: One result per host, in configuration order.
//   - error: ErrAllHostsFailed when no host succeeded.
func (f *Fetcher) Fetch(ctx context.Context) ([]Result, error) {
	if len(f.config.Hosts) == 0 {
		return nil, errors.New("no camera hosts configured")
	}

	results := make([]Result, len(f.config.Hosts))
	g, gctx := errgroup.WithContext(ctx)
	if f.config.Concurrency > 0 {
		g.SetLimit(f.config.Concurrency)
	}

	for i, host := range f.config.Hosts {
		g.Go(func() error {
			dir := HostDir(f.config.Dest, host)
			n, err := f.fetchHost(gctx, host, dir)
			results[i] = Result{Host: host, Dir: dir, Files: n, Err: err}
			if err != nil {
				f.logger.Warn().Err(err).Str("host", host).Msg("snapshot fetch failed")
				return nil
			}
			f.logger.Info().Str("host", host).Int("files", n).Str("dir", dir).Msg("snapshots fetched")
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err == nil {
			return results, nil
		}
	}
	return results, ErrAllHostsFailed
}

func (f *Fetcher) fetchHost(ctx context.Context, host, dir string) (int, error) {
	session, err := f.dial(ctx, host)
	if err != nil {
		return 0, err
	}
	defer session.Close()

	entries, err := session.ReadDir(f.config.RemoteDir)
	if err != nil {
		return 0, errors.Wrapf(err, "list %s:%s", host, f.config.RemoteDir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	n := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !entry.Mode().IsRegular() || !util.IsImageFile(entry.Name()) {
			continue
		}
		if err := download(session, path.Join(f.config.RemoteDir, entry.Name()), filepath.Join(dir, entry.Name())); err != nil {
			return n, errors.Wrapf(err, "download %s from %s", entry.Name(), host)
		}
		n++
	}
	return n, nil
}

// download copies remote to local through a temporary file so readers never see a partial image.
func download(session Session, remote, local string) error {
	src, err := session.Open(remote)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := local + ".part"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, local)
}

type sftpSession struct {
	conn   *ssh.Client
	client *sftp.Client
}

func (s *sftpSession) ReadDir(dir string) ([]os.FileInfo, error) {
	return s.client.ReadDir(dir)
}

func (s *sftpSession) Open(name string) (io.ReadCloser, error) {
	return s.client.Open(name)
}

func (s *sftpSession) Close() error {
	err := s.client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (f *Fetcher) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User: f.config.User,
		// Camera hosts are addressed by LAN IP and carry no stable host keys.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         f.config.Timeout,
	}

	switch {
	case f.config.KeyFile != "":
		key, err := os.ReadFile(f.config.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read private key")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse private key")
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case f.config.Password != "":
		config.Auth = []ssh.AuthMethod{ssh.Password(f.config.Password)}
	default:
		return nil, errors.New("no authentication method provided")
	}
	return config, nil
}

func (f *Fetcher) dialSFTP(ctx context.Context, host string) (Session, error) {
	config, err := f.clientConfig()
	if err != nil {
		return nil, err
	}

	type dialResult struct {
		session Session
		err     error
	}
	resultChan := make(chan dialResult, 1)

	go func() {
		addr := host
		if !strings.Contains(host, ":") {
			addr = fmt.Sprintf("%s:%d", host, f.config.Port)
		}
		conn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- dialResult{nil, errors.Wrapf(err, "failed to connect to %s", addr)}
			return
		}
		client, err := sftp.NewClient(conn)
		if err != nil {
			conn.Close()
			resultChan <- dialResult{nil, errors.Wrap(err, "failed to create sftp client")}
			return
		}
		resultChan <- dialResult{&sftpSession{conn: conn, client: client}, nil}
	}()

	select {
	case <-ctx.Done():
		// Close the session if the dial completes after cancellation.
		go func() {
			if r := <-resultChan; r.session != nil {
				r.session.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultChan:
		return r.session, r.err
	}
}

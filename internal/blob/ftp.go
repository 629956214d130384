package blob

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP store.
type FTPOptions struct {
	// URL is the base location, e.g. ftp://files.example.com/landscaper.
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

// FTPStore keeps blobs on an FTP server. Each call opens its own control
// connection.
type FTPStore struct {
	opts FTPOptions
	host string
	base string
}

// NewFTPStore validates the base URL.
func NewFTPStore(opts FTPOptions) (*FTPStore, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User, opts.Password = "anonymous", "anonymous@"
	}
	host, base, err := parseFTPURL(opts.URL, true)
	if err != nil {
		return nil, err
	}
	return &FTPStore{opts: opts, host: host, base: base}, nil
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string, allowRoot bool) (host string, p string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "blob: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("blob: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if host == "" {
		return "", "", eris.New("blob: empty host in ftp url")
	}
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	p = u.Path
	if p == "" {
		if !allowRoot {
			return "", "", eris.New("blob: empty path in ftp url")
		}
		p = "/"
	}
	return host, p, nil
}

func (s *FTPStore) dial(ctx context.Context) (*ftp.ServerConn, error) {
	zap.L().Debug("blob: ftp connecting", zap.String("host", s.host))

	conn, err := ftp.Dial(s.host, ftp.DialWithTimeout(s.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "blob: ftp dial")
	}
	if err := conn.Login(s.opts.User, s.opts.Password); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "blob: ftp login")
	}
	return conn, nil
}

// Put uploads data, creating the shard directory when missing.
func (s *FTPStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Quit() //nolint:errcheck

	key := objectKey(name, data)
	dst := path.Join(s.base, key)
	dir := path.Dir(dst)
	// MakeDir fails when the directory exists; the Stor below surfaces any
	// real problem.
	for _, d := range parents(dir) {
		_ = conn.MakeDir(d)
	}
	if err := conn.Stor(dst, bytes.NewReader(data)); err != nil {
		return "", eris.Wrapf(err, "blob: ftp store %s", dst)
	}
	return (&url.URL{Scheme: "ftp", Host: s.host, Path: dst}).String(), nil
}

// Get downloads the file at uri.
func (s *FTPStore) Get(ctx context.Context, uri string) ([]byte, error) {
	host, p, err := parseFTPURL(uri, false)
	if err != nil {
		return nil, err
	}
	if host != s.host {
		return nil, eris.Errorf("blob: %s is not on %s", uri, s.host)
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck

	resp, err := conn.Retr(p)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: ftp retrieve %s", p)
	}
	defer resp.Close() //nolint:errcheck

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: ftp read %s", p)
	}
	return data, nil
}

// parents lists every ancestor directory of dir from the root down.
func parents(dir string) []string {
	var out []string
	cur := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		cur += "/" + part
		out = append(out, cur)
	}
	return out
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SFTPConfig struct {
	Host                  string
	Port                  int
	User                  string
	Pass                  string
	RemoteDir             string
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	PublicURL             string // prefix for URL(); required for public asset links
}

// SFTPStore writes blobs to a remote directory over SFTP. The SSH session is
// dialed lazily and shared; a broken session is redialed on the next call.
type SFTPStore struct {
	cfg SFTPConfig

	mu  sync.Mutex
	ssh *ssh.Client
	cli *sftp.Client
}

func NewSFTPStore(cfg SFTPConfig) (*SFTPStore, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, errors.New("sftp: host and user are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "/"
	}
	return &SFTPStore{cfg: cfg}, nil
}

func (s *SFTPStore) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if s.cfg.KnownHostsPath == "" {
		return nil, errors.New("sftp: known_hosts path required unless host key checking is disabled")
	}
	return knownhosts.New(s.cfg.KnownHostsPath)
}

func (s *SFTPStore) client(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cli != nil {
		if _, err := s.cli.Getwd(); err == nil {
			return s.cli, nil
		}
		s.closeLocked()
	}

	cb, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	sshCfg := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(s.cfg.Pass)},
		HostKeyCallback: cb,
		Timeout:         20 * time.Second,
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	type dialRes struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialRes, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, sshCfg)
		ch <- dialRes{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, fmt.Errorf("sftp: dial canceled: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("sftp: dial error: %w", r.err)
		}
		s.ssh = r.client
	}

	cli, err := sftp.NewClient(s.ssh)
	if err != nil {
		s.closeLocked()
		return nil, fmt.Errorf("sftp: new client: %w", err)
	}
	s.cli = cli
	return cli, nil
}

func (s *SFTPStore) remotePath(key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return path.Join(s.cfg.RemoteDir, key), nil
}

func (s *SFTPStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	cli, err := s.client(ctx)
	if err != nil {
		return "", err
	}
	dst, _ := s.remotePath(key)
	if err := cli.MkdirAll(path.Dir(dst)); err != nil {
		return "", fmt.Errorf("sftp: mkdir %s: %w", path.Dir(dst), err)
	}
	f, err := cli.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return "", fmt.Errorf("sftp: create remote file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("sftp: upload copy: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("sftp: close remote file: %w", err)
	}
	return key, nil
}

func (s *SFTPStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	src, err := s.remotePath(key)
	if err != nil {
		return nil, err
	}
	cli, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	f, err := cli.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SFTPStore) URL(key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if s.cfg.PublicURL != "" {
		return publicURL(s.cfg.PublicURL, key), nil
	}
	return fmt.Sprintf("sftp://%s:%d%s", s.cfg.Host, s.cfg.Port, path.Join(s.cfg.RemoteDir, key)), nil
}

func (s *SFTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *SFTPStore) closeLocked() {
	if s.cli != nil {
		_ = s.cli.Close()
		s.cli = nil
	}
	if s.ssh != nil {
		_ = s.ssh.Close()
		s.ssh = nil
	}
}

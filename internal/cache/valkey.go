package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          bool
}

// ValkeyProvider implements Provider over a single RESP connection that is
// re-established after transport errors. Commands are serialized; the relay's
// cache traffic is light enough that pooling would be overkill.
type ValkeyProvider struct {
	cfg ValkeyConfig

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

// NewValkeyProvider connects and pings the target so misconfiguration fails fast.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}

	p := &ValkeyProvider{cfg: cfg}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	reply, err := p.roundTrip("PING")
	if err != nil {
		return nil, err
	}
	if reply.kind != '+' || string(reply.data) != "PONG" {
		return nil, fmt.Errorf("unexpected PING response: %s", reply.data)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply, err := p.roundTrip("GET", key)
	if err != nil {
		return nil, err
	}
	if reply.isNil {
		return nil, ErrCacheMiss
	}
	return reply.data, nil
}

// Set stores bytes with the provided TTL (zero means no expiry).
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	reply, err := p.roundTrip(setArgs(key, value, ttl, false)...)
	if err != nil {
		return err
	}
	if reply.kind != '+' || string(reply.data) != "OK" {
		return fmt.Errorf("unexpected SET response: %s", reply.data)
	}
	return nil
}

// SetNX stores the value only when the key does not exist and reports whether
// the claim succeeded.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	reply, err := p.roundTrip(setArgs(key, value, ttl, true)...)
	if err != nil {
		return false, err
	}
	return !reply.isNil, nil
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.roundTrip("DEL", key)
	return err
}

// Close tears down the connection.
func (p *ValkeyProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func setArgs(key string, value []byte, ttl time.Duration, nx bool) []string {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if nx {
		args = append(args, "NX")
	}
	return args
}

func (p *ValkeyProvider) connect() error {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host, _, splitErr := net.SplitHostPort(p.cfg.Addr)
		if splitErr != nil {
			host = p.cfg.Addr
		}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	} else {
		conn, err = dialer.Dial("tcp", p.cfg.Addr)
	}
	if err != nil {
		return fmt.Errorf("dial valkey: %w", err)
	}

	p.conn = conn
	p.reader = bufio.NewReader(conn)
	p.writer = bufio.NewWriter(conn)

	if p.cfg.Password != "" {
		auth := []string{"AUTH", p.cfg.Password}
		if p.cfg.Username != "" {
			auth = []string{"AUTH", p.cfg.Username, p.cfg.Password}
		}
		if reply, err := p.exchange(auth...); err != nil || reply.kind != '+' {
			p.drop()
			if err == nil {
				err = fmt.Errorf("auth rejected: %s", reply.data)
			}
			return err
		}
	}
	if p.cfg.DB > 0 {
		if reply, err := p.exchange("SELECT", strconv.Itoa(p.cfg.DB)); err != nil || reply.kind != '+' {
			p.drop()
			if err == nil {
				err = fmt.Errorf("select rejected: %s", reply.data)
			}
			return err
		}
	}
	return nil
}

func (p *ValkeyProvider) drop() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = nil
	p.reader = nil
	p.writer = nil
}

// roundTrip sends one command, reconnecting once if the connection has gone away.
func (p *ValkeyProvider) roundTrip(args ...string) (resp, error) {
	if p.conn == nil {
		if err := p.connect(); err != nil {
			return resp{}, err
		}
	}
	reply, err := p.exchange(args...)
	if err != nil {
		p.drop()
		if err := p.connect(); err != nil {
			return resp{}, err
		}
		reply, err = p.exchange(args...)
		if err != nil {
			p.drop()
		}
	}
	return reply, err
}

type resp struct {
	kind  byte
	data  []byte
	isNil bool
}

func (p *ValkeyProvider) exchange(args ...string) (resp, error) {
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return resp{}, err
	}
	fmt.Fprintf(p.writer, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(p.writer, "$%d\r\n%s\r\n", len(arg), arg)
	}
	if err := p.writer.Flush(); err != nil {
		return resp{}, err
	}

	if err := p.conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return resp{}, err
	}
	return p.readReply()
}

func (p *ValkeyProvider) readReply() (resp, error) {
	line, err := p.readLine()
	if err != nil {
		return resp{}, err
	}
	if len(line) == 0 {
		return resp{}, errors.New("empty RESP reply")
	}

	kind, rest := line[0], line[1:]
	switch kind {
	case '+', ':':
		return resp{kind: kind, data: rest}, nil
	case '-':
		return resp{}, errors.New(string(rest))
	case '$':
		size, err := strconv.Atoi(string(rest))
		if err != nil {
			return resp{}, fmt.Errorf("bad bulk length: %w", err)
		}
		if size < 0 {
			return resp{kind: kind, isNil: true}, nil
		}
		buf := make([]byte, size+2) // payload plus trailing CRLF
		if _, err := io.ReadFull(p.reader, buf); err != nil {
			return resp{}, err
		}
		return resp{kind: kind, data: buf[:size]}, nil
	default:
		return resp{}, fmt.Errorf("unexpected RESP prefix %q", kind)
	}
}

func (p *ValkeyProvider) readLine() ([]byte, error) {
	line, err := p.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, errors.New("malformed RESP line")
	}
	return line[:len(line)-2], nil
}

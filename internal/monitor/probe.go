package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-mysql-org/go-mysql/client"
)

// HTTPProber sends a HEAD request to a liveness URL. Only reachability and
// latency matter; the body is never read.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProber) Probe(ctx context.Context) (time.Duration, error) {
	httpClient := p.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode >= 500 {
		return elapsed, fmt.Errorf("liveness %s: http %d", p.URL, resp.StatusCode)
	}
	return elapsed, nil
}

// MySQLProber opens a MySQL protocol session against the remote store and
// sends COM_PING.
type MySQLProber struct {
	Addr     string
	User     string
	Password string
	Database string
}

func (p *MySQLProber) Probe(ctx context.Context) (time.Duration, error) {
	type result struct {
		conn *client.Conn
		err  error
	}
	start := time.Now()
	done := make(chan result, 1)
	go func() {
		conn, err := client.Connect(p.Addr, p.User, p.Password, p.Database)
		done <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return 0, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return 0, fmt.Errorf("mysql connect %s: %w", p.Addr, r.err)
		}
		defer r.conn.Close()
		if err := r.conn.Ping(); err != nil {
			return 0, fmt.Errorf("mysql ping %s: %w", p.Addr, err)
		}
		return time.Since(start), nil
	}
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) (time.Duration, error)

func (f ProberFunc) Probe(ctx context.Context) (time.Duration, error) {
	return f(ctx)
}

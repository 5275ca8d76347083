// Package devshell mints tokens from the hosted-shell helper that
// listens on a localhost socket. The wire format is a length-prefixed
// JSON array: "<decimal byte length>\n<payload>" in both directions.
package devshell

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schmitthub/credkeep/internal/clock"
	"github.com/schmitthub/credkeep/internal/credential"
)

// ClientPortEnv names the helper's localhost port inside a hosted
// shell; its presence is what marks the environment as hosted.
const ClientPortEnv = "DEVSHELL_CLIENT_PORT"

// ErrNotInDevShell indicates no helper endpoint is configured.
var ErrNotInDevShell = errors.New("not running inside a hosted shell")

// maxFrameBytes bounds a response frame.
const maxFrameBytes = 1 << 16

// dialTimeout bounds the helper connection attempt; the helper is
// local, so a slow dial means it is gone.
const dialTimeout = 3 * time.Second

// IsHosted reports whether the process runs inside a hosted shell.
func IsHosted() bool {
	return os.Getenv(ClientPortEnv) != ""
}

// Client speaks the helper protocol.
type Client struct {
	clock clock.Clock
}

// NewClient creates a Client stamping expiries from clk.
func NewClient(clk clock.Clock) *Client {
	return &Client{clock: clk}
}

// Token requests a token from the helper at address (host:port). An
// empty address resolves from DEVSHELL_CLIENT_PORT.
func (c *Client) Token(ctx context.Context, address string) (credential.Token, error) {
	if address == "" {
		port := os.Getenv(ClientPortEnv)
		if port == "" {
			return credential.Token{}, ErrNotInDevShell
		}
		address = net.JoinHostPort("localhost", port)
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return credential.Token{}, fmt.Errorf("dialing hosted-shell helper: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := writeFrame(conn, []byte("[]")); err != nil {
		return credential.Token{}, err
	}
	payload, err := readFrame(conn)
	if err != nil {
		return credential.Token{}, err
	}
	return c.parseResponse(payload)
}

// Response layout: [user_email, project_id, access_token, expires_in?,
// id_token?]. Trailing elements are optional.
func (c *Client) parseResponse(payload []byte) (credential.Token, error) {
	var fields []any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return credential.Token{}, fmt.Errorf("malformed helper response: %w", err)
	}
	if len(fields) < 3 {
		return credential.Token{}, errors.New("helper response carries no token")
	}

	tok := credential.Token{}
	if s, ok := fields[2].(string); ok {
		tok.AccessToken = s
	}
	if tok.AccessToken == "" {
		return credential.Token{}, errors.New("helper response carries no token")
	}
	if len(fields) > 3 {
		if n, ok := fields[3].(float64); ok && n > 0 {
			tok.Expiry = c.clock.Now().Add(time.Duration(n) * time.Second).UTC()
		}
	}
	if len(fields) > 4 {
		if s, ok := fields[4].(string); ok {
			tok.IDToken = s
		}
	}
	return tok, nil
}

func writeFrame(conn net.Conn, payload []byte) error {
	if _, err := fmt.Fprintf(conn, "%d\n%s", len(payload), payload); err != nil {
		return fmt.Errorf("writing helper request: %w", err)
	}
	return nil
}

func readFrame(conn net.Conn) ([]byte, error) {
	r := bufio.NewReader(conn)
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading helper frame header: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || n < 0 || n > maxFrameBytes {
		return nil, fmt.Errorf("invalid helper frame length %q", strings.TrimSpace(header))
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading helper frame: %w", err)
	}
	return payload, nil
}

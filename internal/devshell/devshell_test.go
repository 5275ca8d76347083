package devshell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/credkeep/internal/clock"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeHelper serves one framed response per connection.
func fakeHelper(t *testing.T, response string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				header, err := r.ReadString('\n')
				if err != nil {
					return
				}
				n, err := strconv.Atoi(strings.TrimSpace(header))
				if err != nil {
					return
				}
				request := make([]byte, n)
				if _, err := io.ReadFull(r, request); err != nil {
					return
				}
				fmt.Fprintf(conn, "%d\n%s", len(response), response)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestToken_FullResponse(t *testing.T) {
	addr := fakeHelper(t, `["alice@example.com","my-project","shell-tok",1800,"id-tok"]`)
	c := NewClient(clock.NewFake(t0))

	tok, err := c.Token(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, "shell-tok", tok.AccessToken)
	assert.Equal(t, t0.Add(30*time.Minute), tok.Expiry)
	assert.Equal(t, "id-tok", tok.IDToken)
}

func TestToken_MinimalResponse(t *testing.T) {
	addr := fakeHelper(t, `["alice@example.com","my-project","shell-tok"]`)
	c := NewClient(clock.NewFake(t0))

	tok, err := c.Token(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, "shell-tok", tok.AccessToken)
	assert.True(t, tok.Expiry.IsZero())
	assert.Empty(t, tok.IDToken)
}

func TestToken_AddressFromEnvironment(t *testing.T) {
	addr := fakeHelper(t, `["alice@example.com","my-project","env-tok"]`)
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	t.Setenv(ClientPortEnv, port)

	c := NewClient(clock.NewFake(t0))
	tok, err := c.Token(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "env-tok", tok.AccessToken)
}

func TestToken_NotInDevShell(t *testing.T) {
	t.Setenv(ClientPortEnv, "")
	c := NewClient(clock.NewFake(t0))

	_, err := c.Token(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotInDevShell)
}

func TestToken_ResponseWithoutToken(t *testing.T) {
	addr := fakeHelper(t, `["alice@example.com","my-project"]`)
	c := NewClient(clock.NewFake(t0))

	_, err := c.Token(context.Background(), addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
}

func TestToken_MalformedFrame(t *testing.T) {
	addr := fakeHelper(t, `not json`)
	c := NewClient(clock.NewFake(t0))

	_, err := c.Token(context.Background(), addr)
	require.Error(t, err)
}

func TestIsHosted(t *testing.T) {
	t.Setenv(ClientPortEnv, "")
	assert.False(t, IsHosted())

	t.Setenv(ClientPortEnv, "9000")
	assert.True(t, IsHosted())
}

func TestToken_HelperGone(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := NewClient(clock.NewFake(t0))
	_, err = c.Token(context.Background(), addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialing hosted-shell helper")
}

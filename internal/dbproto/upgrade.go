package dbproto

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/aurorakv/recdb/internal/errs"
)

// UpgradeProtocol is the Upgrade header value the client sends and the
// server echoes back (spec §4.J: "Upgrade: slingdb", or ": search" for
// the search-shard variant — this repo only implements the database
// variant).
const UpgradeProtocol = "recdb"

// WriteUpgradeRequest writes the client's HTTP/1.1 upgrade request.
func WriteUpgradeRequest(w io.Writer, proto string) error {
	req := "GET / HTTP/1.1\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: " + proto + "\r\n\r\n"
	_, err := io.WriteString(w, req)
	return err
}

// ReadUpgradeRequest reads and validates the client's upgrade request
// line-by-line until the blank line terminating the headers, without
// over-reading into the framed protocol that follows.
func ReadUpgradeRequest(r *bufio.Reader) (proto string, err error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("dbproto: %w", errs.ErrUpgradeFailed)
	}
	if !strings.HasPrefix(line, "GET ") {
		return "", fmt.Errorf("dbproto: %w", errs.ErrUpgradeFailed)
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("dbproto: %w", errs.ErrUpgradeFailed)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if k, v, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(k), "Upgrade") {
			proto = strings.TrimSpace(v)
		}
	}
	if proto == "" {
		return "", fmt.Errorf("dbproto: %w", errs.ErrUpgradeFailed)
	}
	return proto, nil
}

// WriteUpgradeResponse writes the server's "101 Switching Protocols"
// reply.
func WriteUpgradeResponse(w io.Writer, proto string) error {
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: " + proto + "\r\n\r\n"
	_, err := io.WriteString(w, resp)
	return err
}

// ReadUpgradeResponse reads and confirms the server's 101 reply, reading
// it line by line through r until the blank line.
func ReadUpgradeResponse(r *bufio.Reader) error {
	status, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("dbproto: %w", errs.ErrUpgradeFailed)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 101") {
		return fmt.Errorf("dbproto: %w", errs.ErrUpgradeFailed)
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("dbproto: %w", errs.ErrUpgradeFailed)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
	}
}

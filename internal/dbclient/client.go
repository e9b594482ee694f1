// Package dbclient implements the binary-protocol client library (spec
// §4.L): connect, upgrade, optionally USE a database, then issue
// operations through Transact, which retries exactly once on EPIPE
// (spec §4.L step 4, §8 property 8).
package dbclient

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/aurorakv/recdb/internal/dbproto"
	"github.com/aurorakv/recdb/internal/errs"
	"github.com/aurorakv/recdb/internal/kvdb"
)

// Config configures a Client.
type Config struct {
	Addr           string // host:port, may resolve to multiple addresses
	Database       string // database to USE immediately after connecting
	DialTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// Client is a single logical connection to a recdb server, transparently
// reconnecting once on a broken pipe.
type Client struct {
	cfg Config

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// New dials addr, performs the protocol upgrade handshake, and (if
// cfg.Database is set) USEs it (spec §4.L steps 1-3).
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	c := &Client{cfg: cfg}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect performs DNS resolution (implicitly, via net.Dial trying each
// resolved address) and the TCP + upgrade handshake.
func (c *Client) connect() error {
	conn, err := net.DialTimeout("tcp", c.cfg.Addr, c.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("dbclient: %w", err)
	}

	if err := dbproto.WriteUpgradeRequest(conn, dbproto.UpgradeProtocol); err != nil {
		conn.Close()
		return fmt.Errorf("dbclient: %w", errs.ErrUpgradeFailed)
	}
	r := bufio.NewReader(conn)
	if err := dbproto.ReadUpgradeResponse(r); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.r = r

	if c.cfg.Database != "" {
		if err := c.use(c.cfg.Database); err != nil {
			conn.Close()
			return err
		}
	}
	return nil
}

func (c *Client) use(name string) error {
	if err := dbproto.WriteFrame(c.conn, uint32(dbproto.DBUSE), []byte(name)); err != nil {
		return err
	}
	h, body, err := dbproto.ReadFrame(c.r)
	if err != nil {
		return err
	}
	if dbproto.Reply(h.Verb) == dbproto.DBERROR {
		return fmt.Errorf("dbclient: use %q: %s", name, body)
	}
	return nil
}

// Use switches the connection's active database (spec §4.L step 3),
// reconnecting under the same retry rule as any other operation.
func (c *Client) Use(name string) error {
	err := c.Transact(func(cc *Client) error {
		return cc.use(name)
	})
	if err == nil {
		c.mu.Lock()
		c.cfg.Database = name
		c.mu.Unlock()
	}
	return err
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// roundTrip writes one request frame and reads one reply frame.
func (c *Client) roundTrip(verb uint32, body []byte) (dbproto.Header, []byte, error) {
	if err := dbproto.WriteFrame(c.conn, verb, body); err != nil {
		return dbproto.Header{}, nil, err
	}
	return dbproto.ReadFrame(c.r)
}

// Transact executes fn once against the current connection; if fn
// returns an EPIPE-class error, Transact reconnects to the same
// (host, db) and executes fn exactly once more (spec §4.L step 4, §8
// property 8). All other errors surface unchanged.
func (c *Client) Transact(fn func(*Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := fn(c)
	if err == nil || !isBrokenPipe(err) {
		return err
	}

	if c.conn != nil {
		c.conn.Close()
	}
	if err := c.connect(); err != nil {
		return fmt.Errorf("dbclient: reconnect: %w", err)
	}
	return fn(c)
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, errs.ErrPipeClosed)
}

// Get fetches values for keys, returning only those found.
func (c *Client) Get(keys [][]byte) (map[string][]byte, error) {
	var body []byte
	for _, k := range keys {
		body = dbproto.EncodeRecord(body, dbproto.WireRecord{Key: k})
	}
	var out map[string][]byte
	err := c.Transact(func(cc *Client) error {
		h, resp, err := cc.roundTrip(uint32(dbproto.DBGET), body)
		if err != nil {
			return mapNetErr(err)
		}
		if dbproto.Reply(h.Verb) == dbproto.DBERROR {
			return fmt.Errorf("dbclient: get: %s", resp)
		}
		out = make(map[string][]byte)
		rest := resp
		for len(rest) > 0 {
			rec, n, err := dbproto.DecodeRecord(rest)
			if err != nil {
				return err
			}
			rest = rest[n:]
			out[string(rec.Key)] = append([]byte(nil), rec.Value...)
		}
		return nil
	})
	return out, err
}

// Put writes one key/value pair under mode.
func (c *Client) Put(key, value []byte, version uint64, mode kvdb.Mode) (kvdb.Outcome, error) {
	body := []byte{byte(mode), 0, 0, 0}
	body = dbproto.EncodeRecord(body, dbproto.WireRecord{Key: key, Value: value, Version: version, HasVersion: true})

	var outcome kvdb.Outcome
	err := c.Transact(func(cc *Client) error {
		h, resp, err := cc.roundTrip(uint32(dbproto.DBPUT), body)
		if err != nil {
			return mapNetErr(err)
		}
		if dbproto.Reply(h.Verb) == dbproto.DBERROR {
			return fmt.Errorf("dbclient: put: %s", resp)
		}
		if len(resp) == 0 {
			return fmt.Errorf("dbclient: put: %w", errs.ErrTruncated)
		}
		outcome = resultToOutcome(dbproto.Result(resp[0]))
		return nil
	})
	return outcome, err
}

// Head fetches version and logical value size for each key, without
// transferring value payloads (spec §4.H "Head is Get without
// materializing the value", §4.L "batched ... HEAD").
func (c *Client) Head(keys [][]byte) (map[string]dbproto.HeadInfo, error) {
	var body []byte
	for _, k := range keys {
		body = dbproto.EncodeRecord(body, dbproto.WireRecord{Key: k})
	}
	out := make(map[string]dbproto.HeadInfo, len(keys))
	err := c.Transact(func(cc *Client) error {
		h, resp, err := cc.roundTrip(uint32(dbproto.DBHEAD), body)
		if err != nil {
			return mapNetErr(err)
		}
		if dbproto.Reply(h.Verb) == dbproto.DBERROR {
			return fmt.Errorf("dbclient: head: %s", resp)
		}
		rest := resp
		for i := 0; len(rest) > 0 && i < len(keys); i++ {
			info, n, err := dbproto.DecodeHeadInfo(rest)
			if err != nil {
				return err
			}
			rest = rest[n:]
			if info.VSize > 0 || info.Version > 0 {
				out[string(keys[i])] = info
			}
		}
		return nil
	})
	return out, err
}

// Next fetches up to limit records starting at cursor, returning the
// records, the advanced cursor, and whether the scan is complete (spec
// §4.J NEXT/NEXT2, §4.L "batched ... NEXT").
func (c *Client) Next(cursor kvdb.Cursor, limit int) ([]dbproto.WireRecord, kvdb.Cursor, bool, error) {
	var body [13]byte
	for i := 0; i < 8; i++ {
		body[i] = byte(cursor.Offset >> (8 * i))
	}
	var flags byte
	if cursor.IncludeDeletions {
		flags |= dbproto.Next2IncludeDeletions
	}
	if limit > 0 {
		flags |= dbproto.Next2HonorLimit
	}
	body[8] = flags
	for i := 0; i < 4; i++ {
		body[9+i] = byte(uint32(limit) >> (8 * i))
	}

	var records []dbproto.WireRecord
	newCursor := cursor
	done := false
	err := c.Transact(func(cc *Client) error {
		records, newCursor, done = nil, cursor, false
		h, resp, err := cc.roundTrip(uint32(dbproto.DBNEXT2), body[:])
		if err != nil {
			return mapNetErr(err)
		}
		if dbproto.Reply(h.Verb) == dbproto.DBERROR {
			return fmt.Errorf("dbclient: next: %s", resp)
		}
		rest := resp
		for len(rest) > 0 {
			rec, n, err := dbproto.DecodeRecord(rest)
			if err != nil {
				return err
			}
			rest = rest[n:]
			records = append(records, rec)
		}

		h2, resp2, err := cc.readReply()
		if err != nil {
			return mapNetErr(err)
		}
		switch dbproto.Reply(h2.Verb) {
		case dbproto.DBDONE:
			done = true
		case dbproto.DBRECID:
			var offset int64
			for i := 0; i < 8 && i < len(resp2); i++ {
				offset |= int64(resp2[i]) << (8 * i)
			}
			newCursor = kvdb.Cursor{Offset: offset, IncludeDeletions: cursor.IncludeDeletions}
		case dbproto.DBERROR:
			return fmt.Errorf("dbclient: next: %s", resp2)
		}
		return nil
	})
	return records, newCursor, done, err
}

// readReply reads one additional frame on the same connection, used by
// Next to consume NEXT2's second (DONE/RECID) reply frame.
func (c *Client) readReply() (dbproto.Header, []byte, error) {
	return dbproto.ReadFrame(c.r)
}

// Delete removes key.
func (c *Client) Delete(key []byte) error {
	return c.Transact(func(cc *Client) error {
		h, resp, err := cc.roundTrip(uint32(dbproto.DBDELETE), key)
		if err != nil {
			return mapNetErr(err)
		}
		if dbproto.Reply(h.Verb) == dbproto.DBERROR {
			return fmt.Errorf("dbclient: delete: %s", resp)
		}
		return nil
	})
}

func mapNetErr(err error) error {
	if errors.Is(err, syscall.EPIPE) {
		return errs.ErrPipeClosed
	}
	return err
}

func resultToOutcome(r dbproto.Result) kvdb.Outcome {
	switch r {
	case dbproto.DBNEW:
		return kvdb.New
	case dbproto.DBUPDATED:
		return kvdb.Updated
	case dbproto.DBUNCHANGED:
		return kvdb.Unchanged
	case dbproto.DBEXISTS:
		return kvdb.Exists
	case dbproto.DBSTALE:
		return kvdb.Stale
	default:
		return kvdb.Fault
	}
}

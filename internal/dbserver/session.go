package dbserver

import (
	"fmt"
	"io"

	"github.com/aurorakv/recdb/internal/dbproto"
	"github.com/aurorakv/recdb/internal/errs"
	"github.com/aurorakv/recdb/internal/kvdb"
)

// session holds one connection's state machine (spec §4.J/§4.K): the
// currently USEd mount, if any. Each verb is dispatched by Process,
// acquiring the active mount's mutex for the duration of the operation
// (spec §5: "Each verb acquires the mount's mutex... long cursor scans
// must yield the mutex periodically").
type session struct {
	svc   *Service
	mount *Mount
}

// Process handles one request frame and writes its reply frame(s) to w.
// It mirrors recordio's per-verb dispatch (spec §4.K): USE/GET/PUT/
// DELETE/NEXT/BULK/EPOCH/HEAD/NEXT2.
func (s *session) Process(w io.Writer, h dbproto.Header, body []byte) error {
	switch dbproto.Verb(h.Verb) {
	case dbproto.DBUSE:
		return s.handleUse(w, body)
	case dbproto.DBGET:
		return s.handleGet(w, body)
	case dbproto.DBPUT:
		return s.handlePut(w, body)
	case dbproto.DBDELETE:
		return s.handleDelete(w, body)
	case dbproto.DBHEAD:
		return s.handleHead(w, body)
	case dbproto.DBNEXT, dbproto.DBNEXT2:
		return s.handleNext(w, body, dbproto.Verb(h.Verb) == dbproto.DBNEXT2)
	case dbproto.DBEPOCH:
		return s.handleEpoch(w)
	case dbproto.DBBULK:
		return s.handleBulk(w, body)
	default:
		return writeError(w, fmt.Errorf("dbserver: %w", errs.ErrUnknownVerb))
	}
}

func writeError(w io.Writer, err error) error {
	return dbproto.WriteFrame(w, uint32(dbproto.DBERROR), []byte(err.Error()))
}

func writeOK(w io.Writer) error {
	return dbproto.WriteFrame(w, uint32(dbproto.DBOK), nil)
}

func (s *session) requireMount() (*Mount, error) {
	if s.mount == nil {
		return nil, fmt.Errorf("dbserver: %w", errs.ErrNoSuchMount)
	}
	return s.mount, nil
}

func (s *session) handleUse(w io.Writer, body []byte) error {
	name := string(body)
	m, err := s.svc.Lookup(name)
	if err != nil {
		return writeError(w, err)
	}
	s.mount = m
	return writeOK(w)
}

func (s *session) handleGet(w io.Writer, body []byte) error {
	m, err := s.requireMount()
	if err != nil {
		return writeError(w, err)
	}
	m.Lock()
	defer m.Unlock()

	var out []byte
	rest := body
	for len(rest) > 0 {
		rec, n, err := dbproto.DecodeRecord(rest)
		if err != nil {
			return writeError(w, err)
		}
		rest = rest[n:]

		value, version, found, err := m.DB.Get(rec.Key)
		if err != nil {
			return writeError(w, err)
		}
		if !found {
			continue
		}
		out = dbproto.EncodeRecord(out, dbproto.WireRecord{Key: rec.Key, Value: value, Version: version, HasVersion: true})
	}
	return dbproto.WriteFrame(w, uint32(dbproto.DBRECORD), out)
}

func (s *session) handleHead(w io.Writer, body []byte) error {
	m, err := s.requireMount()
	if err != nil {
		return writeError(w, err)
	}
	m.Lock()
	defer m.Unlock()

	var out []byte
	rest := body
	for len(rest) > 0 {
		rec, n, err := dbproto.DecodeRecord(rest)
		if err != nil {
			return writeError(w, err)
		}
		rest = rest[n:]

		version, size, found, err := m.DB.Head(rec.Key)
		if err != nil {
			return writeError(w, err)
		}
		info := dbproto.HeadInfo{Version: version}
		if found {
			info.VSize = uint32(size)
		}
		out = dbproto.EncodeHeadInfo(out, info)
	}
	return dbproto.WriteFrame(w, uint32(dbproto.DBRECINFO), out)
}

func (s *session) handlePut(w io.Writer, body []byte) error {
	m, err := s.requireMount()
	if err != nil {
		return writeError(w, err)
	}
	if len(body) < 4 {
		return writeError(w, fmt.Errorf("dbserver: %w", errs.ErrTruncated))
	}
	mode := kvdb.Mode(body[0])
	rest := body[4:]

	m.Lock()
	defer m.Unlock()

	var results []byte
	for len(rest) > 0 {
		rec, n, err := dbproto.DecodeRecord(rest)
		if err != nil {
			return writeError(w, err)
		}
		rest = rest[n:]

		outcome, _, err := m.DB.Put(rec.Key, rec.Value, rec.Version, mode)
		if err != nil {
			return writeError(w, err)
		}
		results = append(results, byte(outcomeToResult(outcome)))
	}
	return dbproto.WriteFrame(w, uint32(dbproto.DBRESULT), results)
}

func (s *session) handleDelete(w io.Writer, body []byte) error {
	m, err := s.requireMount()
	if err != nil {
		return writeError(w, err)
	}
	m.Lock()
	defer m.Unlock()

	if _, err := m.DB.Delete(body); err != nil {
		return writeError(w, err)
	}
	return writeOK(w)
}

func (s *session) handleEpoch(w io.Writer) error {
	m, err := s.requireMount()
	if err != nil {
		return writeError(w, err)
	}
	m.Lock()
	epoch := m.DB.Epoch()
	m.Unlock()

	var buf [8]byte
	for i := range buf {
		buf[i] = byte(epoch >> (8 * i))
	}
	return dbproto.WriteFrame(w, uint32(dbproto.DBRESULT), buf[:])
}

func (s *session) handleBulk(w io.Writer, body []byte) error {
	m, err := s.requireMount()
	if err != nil {
		return writeError(w, err)
	}
	on := len(body) > 0 && body[0] != 0
	m.DB.SetBulk(on)
	return writeOK(w)
}

// handleNext implements NEXT/NEXT2 (spec §4.J, §4.H): body is an 8-byte
// cursor offset, an optional flags byte (NEXT2 only), and a uint32
// batch size.
func (s *session) handleNext(w io.Writer, body []byte, next2 bool) error {
	m, err := s.requireMount()
	if err != nil {
		return writeError(w, err)
	}
	need := 12
	if next2 {
		need = 13
	}
	if len(body) < need {
		return writeError(w, fmt.Errorf("dbserver: %w", errs.ErrTruncated))
	}

	var offset int64
	for i := 0; i < 8; i++ {
		offset |= int64(body[i]) << (8 * i)
	}
	idx := 8
	var flags byte
	if next2 {
		flags = body[idx]
		idx++
	}
	var batch uint32
	for i := 0; i < 4; i++ {
		batch |= uint32(body[idx+i]) << (8 * i)
	}

	cursor := kvdb.Cursor{Offset: offset, IncludeDeletions: flags&dbproto.Next2IncludeDeletions != 0}
	limit := int(batch)
	if next2 && flags&dbproto.Next2HonorLimit == 0 {
		limit = 0
	}

	m.Lock()
	records, newCursor, done, err := m.DB.Next(cursor, limit)
	m.Unlock()
	if err != nil {
		return writeError(w, err)
	}

	var out []byte
	excludeValue := next2 && flags&dbproto.Next2ExcludeValue != 0
	for _, rec := range records {
		wr := dbproto.WireRecord{Key: rec.Key, Version: rec.Version, HasVersion: true}
		if !excludeValue {
			wr.Value = rec.Value
		}
		out = dbproto.EncodeRecord(out, wr)
	}
	if err := dbproto.WriteFrame(w, uint32(dbproto.DBRECORD), out); err != nil {
		return err
	}
	if done {
		return dbproto.WriteFrame(w, uint32(dbproto.DBDONE), nil)
	}

	var cbuf [8]byte
	for i := range cbuf {
		cbuf[i] = byte(newCursor.Offset >> (8 * i))
	}
	return dbproto.WriteFrame(w, uint32(dbproto.DBRECID), cbuf[:])
}

func outcomeToResult(o kvdb.Outcome) dbproto.Result {
	switch o {
	case kvdb.New:
		return dbproto.DBNEW
	case kvdb.Updated:
		return dbproto.DBUPDATED
	case kvdb.Unchanged:
		return dbproto.DBUNCHANGED
	case kvdb.Exists:
		return dbproto.DBEXISTS
	case kvdb.Stale:
		return dbproto.DBSTALE
	default:
		return dbproto.DBFAULT
	}
}

// HTTP admin surface (spec §6, §4.M): per-key GET/PUT/DELETE, OPTIONS
// status, and admin POST endpoints for create/mount/unmount/backup, plus
// a plain statusz page. JSON bodies use goccy/go-json, the same choice
// jpl-au-folio makes for its own header/record encoding, kept for every
// place this repo reaches for JSON instead of the binary record format.
package dbserver

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tailscale/hujson"

	"github.com/aurorakv/recdb/internal/errs"
	"github.com/aurorakv/recdb/internal/kvdb"
)

// Handler returns an http.Handler serving the admin surface described in
// spec §6 and §4.M.
func (svc *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/create", svc.handleCreate)
	mux.HandleFunc("/mount", svc.handleMount)
	mux.HandleFunc("/unmount", svc.handleUnmount)
	mux.HandleFunc("/backup", svc.handleBackup)
	mux.HandleFunc("/statusz", svc.handleStatusz)
	mux.HandleFunc("/", svc.handleRecord)
	return mux
}

func (svc *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")

	var cfg kvdb.Config
	var bulk bool
	if body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)); err == nil && len(body) > 0 {
		std, err := hujson.Standardize(body)
		if err == nil {
			var raw struct {
				ChunkSize     int64 `json:"chunk_size"`
				IndexPageSize int   `json:"index_page_size"`
				Compression   uint8 `json:"compression"`
				HashAlgorithm int   `json:"hash_algorithm"`
				ReadOnly      bool  `json:"read_only"`
				Timestamped   bool  `json:"timestamped"`
				Bulk          bool  `json:"bulk"`
			}
			if json.Unmarshal(std, &raw) == nil {
				cfg.ChunkSize = raw.ChunkSize
				cfg.IndexPageSize = raw.IndexPageSize
				cfg.Compression = raw.Compression
				cfg.HashAlgorithm = raw.HashAlgorithm
				cfg.ReadOnly = raw.ReadOnly
				cfg.Timestamped = raw.Timestamped
				bulk = raw.Bulk
			}
		}
	}

	if err := svc.Create(name, cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if bulk {
		if m, err := svc.Lookup(name); err == nil {
			m.DB.SetBulk(true)
		}
	}
	w.WriteHeader(http.StatusCreated)
}

func (svc *Service) handleMount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	doRecover := r.URL.Query().Get("recover") == "1"
	if err := svc.Mount(name, doRecover); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (svc *Service) handleUnmount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	if err := svc.Unmount(name); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleBackup streams a snapshot of a mounted database's data file,
// taken under the mount lock via kvdb.Database.WriteSnapshot; the index
// file is not included.
func (svc *Service) handleBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	m, err := svc.Lookup(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	m.Lock()
	defer m.Unlock()
	if err := m.DB.Flush(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if err := m.DB.WriteSnapshot(w); err != nil {
		svc.cfg.Logger.Warn("dbserver: backup stream failed")
	}
}

type statuszMount struct {
	Name       string `json:"name"`
	Epoch      uint64 `json:"epoch"`
	Dirty      bool   `json:"dirty"`
	Records    uint64 `json:"records"`
	Deletions  uint64 `json:"deletions"`
	IndexCap   uint64 `json:"index_capacity"`
}

type statuszReport struct {
	DBDir  string          `json:"dbdir"`
	Mounts []statuszMount  `json:"mounts"`
}

func (svc *Service) handleStatusz(w http.ResponseWriter, r *http.Request) {
	report := statuszReport{DBDir: svc.cfg.DBDir}
	for _, m := range svc.Mounts() {
		records, deletions, capacity := m.DB.Size()
		report.Mounts = append(report.Mounts, statuszMount{
			Name:      m.Name,
			Epoch:     m.DB.Epoch(),
			Dirty:     m.DB.Dirty(),
			Records:   records,
			Deletions: deletions,
			IndexCap:  capacity,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(report)
}

// handleRecord serves GET/PUT/DELETE/OPTIONS on /<db>/<key> (spec §6).
func (svc *Service) handleRecord(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if len(path) < 1 || path[0] != '/' {
		http.NotFound(w, r)
		return
	}
	path = path[1:]

	var dbName, key string
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			dbName = path[:i]
			key = path[i+1:]
			break
		}
	}
	if dbName == "" {
		dbName = path
	}

	m, err := svc.Lookup(dbName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodOptions:
		svc.handleOptions(w, m)
	case http.MethodGet:
		if key == "" {
			svc.handleScan(w, r, m)
			return
		}
		svc.handleGetHTTP(w, m, key)
	case http.MethodPut:
		svc.handlePutHTTP(w, r, m, key)
	case http.MethodDelete:
		svc.handleDeleteHTTP(w, m, key)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleScan serves `GET /<db>/?id=<recid>&n=<batch>` (spec §6): a
// multipart/mixed cursor scan starting at byte offset id, returning up
// to n records.
func (svc *Service) handleScan(w http.ResponseWriter, r *http.Request, m *Mount) {
	var offset int64
	if id := r.URL.Query().Get("id"); id != "" {
		v, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		offset = v
	}
	batch := 100
	if n := r.URL.Query().Get("n"); n != "" {
		v, err := strconv.Atoi(n)
		if err == nil && v > 0 {
			batch = v
		}
	}

	m.Lock()
	recs, cursor, done, err := m.DB.Next(kvdb.Cursor{Offset: offset}, batch)
	m.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	w.Header().Set("Next-Id", strconv.FormatInt(cursor.Offset, 10))
	w.Header().Set("Done", strconv.FormatBool(done))
	w.WriteHeader(http.StatusOK)
	for _, rec := range recs {
		part, err := mw.CreatePart(map[string][]string{
			"Key":     {string(rec.Key)},
			"Version": {strconv.FormatUint(rec.Version, 10)},
		})
		if err != nil {
			return
		}
		if _, err := part.Write(rec.Value); err != nil {
			return
		}
	}
	mw.Close()
}

// handleOptions serves the OPTIONS status summary (spec §6):
// {name, epoch, dbdir, dirty, read_only, timestamped, records,
// deletions, index_capacity}.
func (svc *Service) handleOptions(w http.ResponseWriter, m *Mount) {
	m.Lock()
	defer m.Unlock()
	records, deletions, capacity := m.DB.Size()
	body := map[string]any{
		"name":           m.Name,
		"epoch":          m.DB.Epoch(),
		"dbdir":          m.DB.Dir(),
		"dirty":          m.DB.Dirty(),
		"read_only":      m.DB.ReadOnly(),
		"timestamped":    m.DB.Timestamped(),
		"records":        records,
		"deletions":      deletions,
		"index_capacity": capacity,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (svc *Service) handleGetHTTP(w http.ResponseWriter, m *Mount, key string) {
	m.Lock()
	value, version, found, err := m.DB.Get([]byte(key))
	timestamped := m.DB.Timestamped()
	m.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Key", key)
	if timestamped {
		w.Header().Set("Last-Modified", time.Unix(int64(version), 0).UTC().Format(http.TimeFormat))
	} else {
		w.Header().Set("Version", strconv.FormatUint(version, 10))
	}
	w.Write(value)
}

func (svc *Service) handlePutHTTP(w http.ResponseWriter, r *http.Request, m *Mount, key string) {
	value, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode := parseMode(r.Header.Get("Mode"))
	version, _ := strconv.ParseUint(r.Header.Get("Version"), 10, 64)

	m.Lock()
	outcome, recordID, err := m.DB.Put([]byte(key), value, version, mode)
	m.Unlock()
	if err != nil {
		if errors.Is(err, errs.ErrReadOnly) {
			http.Error(w, err.Error(), http.StatusMethodNotAllowed)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Outcome", outcome.String())
	w.Header().Set("RecordID", strconv.FormatInt(recordID, 10))
	w.WriteHeader(http.StatusOK)
}

func (svc *Service) handleDeleteHTTP(w http.ResponseWriter, m *Mount, key string) {
	m.Lock()
	_, err := m.DB.Delete([]byte(key))
	m.Unlock()
	if err != nil {
		if errors.Is(err, errs.ErrReadOnly) {
			http.Error(w, err.Error(), http.StatusMethodNotAllowed)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func parseMode(s string) kvdb.Mode {
	switch s {
	case "add":
		return kvdb.ModeAdd
	case "ordered":
		return kvdb.ModeOrdered
	case "newer":
		return kvdb.ModeNewer
	default:
		return kvdb.ModeOverwrite
	}
}

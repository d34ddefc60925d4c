package backendtest

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// owned lists the tables whose rows belong to a single user.
var owned = map[string]bool{
	"wallets":             true,
	"transactions":        true,
	"notifications":       true,
	"withdrawal_requests": true,
	"support_tickets":     true,
}

var reserved = map[string]bool{"select": true, "order": true, "limit": true, "or": true}

func (s *Server) handleREST(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	uid, ok := s.caller(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "PGRST301", "JWT expired")
		return
	}
	if f := s.enter("table:" + table); f != nil {
		f.write(w)
		return
	}
	admin := uid != "" && s.isAdmin(uid)
	q := r.URL.Query()

	s.mu.Lock()
	var (
		status = http.StatusOK
		body   interface{}
	)
	switch r.Method {
	case http.MethodGet:
		rows := s.selectLocked(table, q, uid, admin)
		if strings.Contains(r.Header.Get("Accept"), "vnd.pgrst.object") {
			if len(rows) != 1 {
				s.mu.Unlock()
				writeErr(w, http.StatusNotAcceptable, "PGRST116", "JSON object requested, multiple (or no) rows returned")
				return
			}
			body = rows[0]
		} else {
			body = rows
		}
	case http.MethodPost:
		var in json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			s.mu.Unlock()
			writeErr(w, http.StatusBadRequest, "PGRST102", "invalid body")
			return
		}
		var list []Row
		if len(in) > 0 && in[0] == '[' {
			_ = json.Unmarshal(in, &list)
		} else {
			var one Row
			_ = json.Unmarshal(in, &one)
			list = []Row{one}
		}
		if owned[table] && uid == "" {
			s.mu.Unlock()
			writeErr(w, http.StatusUnauthorized, "42501", "permission denied for table "+table)
			return
		}
		out := make([]Row, 0, len(list))
		for _, row := range list {
			clean(row)
			if owned[table] {
				if _, ok := row["user_id"]; !ok {
					row["user_id"] = uid
				}
				if row["user_id"] != uid && !admin {
					s.mu.Unlock()
					writeErr(w, http.StatusForbidden, "42501", "new row violates row-level security policy for table \""+table+"\"")
					return
				}
			}
			if table == "support_tickets" {
				if _, ok := row["status"]; !ok {
					row["status"] = "OPEN"
				}
			}
			out = append(out, s.decorateLocked(table, s.insertLocked(table, row)))
		}
		status, body = http.StatusCreated, out
	case http.MethodPatch:
		var patch Row
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			s.mu.Unlock()
			writeErr(w, http.StatusBadRequest, "PGRST102", "invalid body")
			return
		}
		out := []Row{}
		now := time.Now().UTC()
		for _, row := range s.tables[table] {
			if !s.visibleLocked(table, row, uid, admin) || !matches(row, q) {
				continue
			}
			if table == "matches" && !admin && row["created_by"] != uid && row["accepted_by"] != uid {
				continue
			}
			if table == "profiles" && !admin && row["id"] != uid {
				continue
			}
			for k, v := range patch {
				row[k] = v
			}
			if _, ok := row["updated_at"]; ok || table == "matches" {
				row["updated_at"] = now
			}
			s.emitLocked(table, "UPDATE", row)
			out = append(out, s.decorateLocked(table, row))
		}
		body = out
	case http.MethodDelete:
		kept := s.tables[table][:0]
		for _, row := range s.tables[table] {
			if s.visibleLocked(table, row, uid, admin) && matches(row, q) {
				s.emitLocked(table, "DELETE", row)
				continue
			}
			kept = append(kept, row)
		}
		s.tables[table] = kept
		status = http.StatusNoContent
	default:
		s.mu.Unlock()
		writeErr(w, http.StatusMethodNotAllowed, "PGRST000", "method not allowed")
		return
	}
	out := s.drainLocked()
	s.mu.Unlock()
	s.rt.publish(out)

	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, body)
}

func (s *Server) selectLocked(table string, q url.Values, uid string, admin bool) []Row {
	rows := []Row{}
	for _, row := range s.tables[table] {
		if s.visibleLocked(table, row, uid, admin) && matches(row, q) {
			rows = append(rows, s.decorateLocked(table, row))
		}
	}
	if o := q.Get("order"); o != "" {
		col, dir, _ := strings.Cut(o, ".")
		desc := dir == "desc"
		sort.SliceStable(rows, func(i, j int) bool {
			if desc {
				return less(rows[j][col], rows[i][col])
			}
			return less(rows[i][col], rows[j][col])
		})
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n < len(rows) {
			rows = rows[:n]
		}
	}
	return rows
}

func (s *Server) visibleLocked(table string, row Row, uid string, admin bool) bool {
	if !owned[table] || admin {
		return true
	}
	return uid != "" && row["user_id"] == uid
}

// decorateLocked returns a copy of row with the embedded profiles a select
// with foreign-table columns would attach.
func (s *Server) decorateLocked(table string, row Row) Row {
	out := copyRow(row)
	switch table {
	case "matches":
		out["profiles"] = s.profileLocked(row["created_by"])
		if row["accepted_by"] != nil {
			out["accepted_profile"] = s.profileLocked(row["accepted_by"])
		} else {
			out["accepted_profile"] = nil
		}
	case "integrity_logs":
		out["profiles"] = s.profileLocked(row["user_id"])
	}
	return out
}

func (s *Server) profileLocked(id interface{}) interface{} {
	for _, p := range s.tables["profiles"] {
		if p["id"] == id {
			return copyRow(p)
		}
	}
	return nil
}

// clean drops zero values a client struct serializes for server-assigned columns.
func clean(row Row) {
	if v, ok := row["id"]; ok && (v == nil || v == "") {
		delete(row, "id")
	}
	for _, col := range []string{"created_at", "updated_at", "resolved_at"} {
		if v, ok := row[col].(string); ok && strings.HasPrefix(v, "0001-01-01") {
			delete(row, col)
		}
	}
	if v, ok := row["status"]; ok && v == "" {
		delete(row, "status")
	}
	if v, ok := row["user_id"]; ok && v == "" {
		delete(row, "user_id")
	}
	for k, v := range row {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			row[k] = int64(f)
		}
	}
}

func matches(row Row, q url.Values) bool {
	for col, vals := range q {
		if reserved[col] {
			continue
		}
		for _, v := range vals {
			if !test(row, col, v) {
				return false
			}
		}
	}
	for _, expr := range q["or"] {
		expr = strings.TrimSuffix(strings.TrimPrefix(expr, "("), ")")
		hit := false
		for _, term := range strings.Split(expr, ",") {
			col, rest, ok := strings.Cut(term, ".")
			if ok && test(row, col, rest) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func test(row Row, col, filter string) bool {
	op, val, _ := strings.Cut(filter, ".")
	got := str(row[col])
	switch op {
	case "eq":
		return got == val
	case "neq":
		return got != val
	case "is":
		return got == val
	case "in":
		for _, v := range strings.Split(strings.Trim(val, "()"), ",") {
			if got == v {
				return true
			}
		}
		return false
	}
	return false
}

func less(a, b interface{}) bool {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Before(tb)
		}
	}
	switch a.(type) {
	case int64, int, float64:
		return num(a) < num(b)
	}
	return str(a) < str(b)
}

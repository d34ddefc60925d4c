package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// handleFunction serves the edge functions that broker provider intents.
func (s *Server) handleFunction(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/functions/v1/")
	uid, ok := s.caller(r)
	if !ok || uid == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	if f := s.enter(name); f != nil {
		writeJSON(w, f.status, map[string]string{"error": f.message})
		return
	}
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	switch name {
	case "stripe-payment-intent":
		amount := num(body["amount"])
		if amount < 50 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Amount must be at least 50 cents"})
			return
		}
		id := fmt.Sprintf("pi_%d", s.seq)
		secret := id + "_secret_" + strconv.Itoa(s.seq*7)
		s.intents[id] = Row{"id": id, "secret": secret, "amount": amount, "currency": body["currency"], "status": "requires_payment_method", "user_id": uid}
		writeJSON(w, http.StatusOK, map[string]string{"clientSecret": secret, "id": id})
	case "paypal-create-order":
		v, _ := body["amount"].(string)
		whole, frac, _ := strings.Cut(v, ".")
		w64, _ := strconv.ParseInt(whole, 10, 64)
		f64, _ := strconv.ParseInt((frac + "00")[:2], 10, 64)
		id := fmt.Sprintf("ORDER-%d", s.seq)
		s.orders[id] = Row{"id": id, "amount": v, "amount_cents": w64*100 + f64, "currency": body["currency"], "status": "APPROVED", "user_id": uid}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "approve_url": s.URL + "/checkoutnow?token=" + id})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Function not found"})
	}
}

func (s *Server) handleCardIntent(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/payment_intents/")
	id, action, _ := strings.Cut(rest, "/")
	_ = r.ParseForm()
	s.enter("card:" + action)

	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.intents[id]
	if in == nil || r.Form.Get("client_secret") != in["secret"] {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": map[string]string{"code": "resource_missing", "message": "No such payment_intent: '" + id + "'"}})
		return
	}
	if action == "confirm" && r.Method == http.MethodPost {
		if s.DeclineCards {
			in["status"] = "requires_payment_method"
			out := copyRow(in)
			out["last_payment_error"] = map[string]string{"code": "card_declined", "message": "Your card was declined."}
			delete(out, "secret")
			writeJSON(w, http.StatusPaymentRequired, out)
			return
		}
		in["status"] = "succeeded"
	}
	out := copyRow(in)
	delete(out, "secret")
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHostedToken(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := r.BasicAuth(); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": "A21AA-test", "token_type": "Bearer", "expires_in": 32400})
}

func (s *Server) handleHostedOrder(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer A21AA-test" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"name": "AUTHENTICATION_FAILURE", "message": "Authentication failed"})
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v2/checkout/orders/")
	id, action, _ := strings.Cut(rest, "/")
	s.enter("hosted:" + action)

	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	if o == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"name": "RESOURCE_NOT_FOUND", "message": "The specified resource does not exist."})
		return
	}
	if action == "capture" && r.Method == http.MethodPost {
		if o["status"] != "APPROVED" && o["status"] != "COMPLETED" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"name": "UNPROCESSABLE_ENTITY", "message": "Order not approved"})
			return
		}
		o["status"] = "COMPLETED"
		if o["capture_id"] == nil {
			s.seq++
			o["capture_id"] = fmt.Sprintf("CAP-%d", s.seq)
		}
	}
	writeJSON(w, http.StatusOK, orderJSON(o))
}

func orderJSON(o Row) map[string]interface{} {
	amount := map[string]interface{}{"value": o["amount"], "currency_code": strings.ToUpper(str(o["currency"]))}
	unit := map[string]interface{}{"amount": amount}
	if o["capture_id"] != nil {
		unit["payments"] = map[string]interface{}{
			"captures": []map[string]interface{}{{"id": o["capture_id"], "status": "COMPLETED", "amount": amount}},
		}
	}
	return map[string]interface{}{"id": o["id"], "status": o["status"], "purchase_units": []interface{}{unit}}
}

type standing struct {
	UserID       string  `json:"user_id"`
	Username     string  `json:"username"`
	Rank         int     `json:"rank"`
	Rating       int     `json:"rating"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	Draws        int     `json:"draws"`
	WinStreak    int     `json:"win_streak"`
	TotalMatches int     `json:"total_matches"`
	WinRate      float64 `json:"win_rate"`
}

// standingsLocked derives ratings from completed matches.
func (s *Server) standingsLocked() []standing {
	by := map[string]*standing{}
	var order []string
	for _, p := range s.tables["profiles"] {
		id := str(p["id"])
		by[id] = &standing{UserID: id, Username: str(p["username"]), Rating: 1000}
		order = append(order, id)
	}
	for _, m := range s.tables["matches"] {
		if m["status"] != "COMPLETED" {
			continue
		}
		for _, id := range []string{str(m["created_by"]), str(m["accepted_by"])} {
			st := by[id]
			if st == nil {
				continue
			}
			st.TotalMatches++
			if m["winner_id"] == id {
				st.Wins++
				st.WinStreak++
				st.Rating += 25
			} else {
				st.Losses++
				st.WinStreak = 0
				st.Rating -= 25
			}
			st.WinRate = float64(st.Wins) / float64(st.TotalMatches) * 100
		}
	}
	out := make([]standing, 0, len(order))
	for _, id := range order {
		out = append(out, *by[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	if f := s.enter("rankings"); f != nil {
		f.write(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("cursor"))
	s.mu.Lock()
	all := s.standingsLocked()
	s.mu.Unlock()
	if offset > len(all) {
		offset = len(all)
	}
	page := all[offset:]
	var cursor interface{}
	if limit > 0 && limit < len(page) {
		page = page[:limit]
		cursor = strconv.Itoa(offset + limit)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": page,
		"meta": map[string]interface{}{"pagination": map[string]interface{}{"cursor": cursor, "has_more": cursor != nil}},
	})
}

func (s *Server) handleMyRanking(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.caller(r)
	if !ok || uid == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}
	s.mu.Lock()
	all := s.standingsLocked()
	s.mu.Unlock()
	for _, st := range all {
		if st.UserID == uid {
			writeJSON(w, http.StatusOK, map[string]interface{}{"data": st})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Player not ranked"})
}

package backendtest

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type procedure func(s *Server, uid string, p params) (interface{}, *failure)

var procedures = map[string]procedure{
	"create_match_with_wallet":   (*Server).createMatch,
	"join_match_with_wallet":     (*Server).joinMatch,
	"complete_match_with_payout": (*Server).completeMatch,
	"cancel_match_with_refund":   (*Server).cancelMatch,
	"mock_deposit":               (*Server).mockDeposit,
	"request_withdrawal":         (*Server).requestWithdrawal,
	"reconcile_deposit":          (*Server).reconcileDeposit,
	"resolve_support_ticket":     (*Server).resolveTicket,
	"find_suggested_matches":     (*Server).suggestedMatches,
	"apply_match_leave_penalty":  (*Server).leavePenalty,
}

type params map[string]interface{}

func (p params) str(k string) string {
	v, _ := p[k].(string)
	return v
}

func (p params) num(k string) int64 { return num(p[k]) }

func (p params) flag(k string) bool {
	v, _ := p[k].(bool)
	return v
}

func raise(message string) *failure {
	return &failure{status: http.StatusBadRequest, code: "P0001", message: message}
}

func reject(message string) (interface{}, *failure) {
	return map[string]interface{}{"success": false, "error": message}, nil
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/rest/v1/rpc/")
	proc, ok := procedures[name]
	if !ok {
		writeErr(w, http.StatusNotFound, "PGRST202", "Could not find the function public."+name)
		return
	}
	uid, ok := s.caller(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "PGRST301", "JWT expired")
		return
	}
	var p params
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		p = params{}
	}
	if f := s.enter(name); f != nil {
		f.write(w)
		return
	}
	if uid == "" {
		raise("Not authenticated").write(w)
		return
	}

	s.mu.Lock()
	out, f := proc(s, uid, p)
	if f != nil {
		s.outbox = nil
		s.mu.Unlock()
		f.write(w)
		return
	}
	pending := s.drainLocked()
	s.mu.Unlock()
	s.rt.publish(pending)
	writeJSON(w, http.StatusOK, out)
}

// credit moves cents into (or out of, when negative) a wallet and records the
// ledger entry. The wallet is created on first use.
func (s *Server) credit(uid string, cents int64, typ, desc string) int64 {
	w := s.walletLocked(uid)
	if w == nil {
		w = Row{"id": uuid.NewString(), "user_id": uid, "balance_cents": int64(0), "currency": "usd"}
		s.tables["wallets"] = append(s.tables["wallets"], w)
	}
	bal := num(w["balance_cents"]) + cents
	w["balance_cents"] = bal
	w["updated_at"] = time.Now().UTC()
	s.emitLocked("wallets", "UPDATE", w)
	s.insertLocked("transactions", Row{"user_id": uid, "amount_cents": cents, "type": typ, "description": desc})
	return bal
}

func (s *Server) matchLocked(id string) Row {
	for _, m := range s.tables["matches"] {
		if m["id"] == id {
			return m
		}
	}
	return nil
}

func (s *Server) roomCode() string {
	if c := s.NextRoomCode; c != "" {
		s.NextRoomCode = ""
		return c
	}
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, 6)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

func (s *Server) createMatch(uid string, p params) (interface{}, *failure) {
	stake := p.num("p_stake_cents")
	if stake < 100 || stake > 100000 {
		return reject("Invalid stake amount")
	}
	if bo := p.num("p_best_of"); bo < 1 || bo > 7 || bo%2 == 0 {
		return reject("best_of must be an odd number between 1 and 7")
	}
	if w := s.walletLocked(uid); w == nil || num(w["balance_cents"]) < stake {
		return nil, raise("Insufficient funds")
	}
	s.credit(uid, -stake, "ENTRY_FEE", "Match entry fee")
	now := time.Now().UTC()
	code := s.roomCode()
	m := Row{
		"id":                     uuid.NewString(),
		"game":                   p.str("p_game"),
		"match_type":             p.str("p_match_type"),
		"status":                 "CREATED",
		"stake_cents":            stake,
		"total_pot_cents":        int64(0),
		"best_of":                p.num("p_best_of"),
		"platform":               p.str("p_platform"),
		"is_private":             p.flag("p_is_private"),
		"room_code":              code,
		"rules":                  p["p_rules"],
		"spectator_chat_enabled": p.flag("p_spectator_chat_enabled"),
		"twitch_url":             p["p_twitch_url"],
		"created_by":             uid,
		"accepted_by":            nil,
		"winner_id":              nil,
		"created_at":             now,
		"updated_at":             now,
	}
	s.insertLocked("matches", m)
	return map[string]interface{}{"success": true, "match_id": m["id"], "room_code": code}, nil
}

func (s *Server) joinMatch(uid string, p params) (interface{}, *failure) {
	m := s.matchLocked(p.str("p_match_id"))
	switch {
	case m == nil:
		return reject("Match not found")
	case m["status"] != "CREATED":
		return reject("Match is no longer available")
	case m["created_by"] == uid:
		return reject("You cannot join your own match")
	}
	stake := num(m["stake_cents"])
	if w := s.walletLocked(uid); w == nil || num(w["balance_cents"]) < stake {
		return nil, raise("Insufficient funds")
	}
	s.credit(uid, -stake, "ENTRY_FEE", "Match entry fee")
	m["status"] = "ACCEPTED"
	m["accepted_by"] = uid
	m["total_pot_cents"] = stake * 2
	m["updated_at"] = time.Now().UTC()
	s.emitLocked("matches", "UPDATE", m)
	return map[string]interface{}{"success": true, "match_id": m["id"]}, nil
}

func (s *Server) completeMatch(uid string, p params) (interface{}, *failure) {
	m := s.matchLocked(p.str("p_match_id"))
	winner := p.str("p_winner_id")
	switch {
	case m == nil:
		return reject("Match not found")
	case m["created_by"] != uid && m["accepted_by"] != uid:
		return reject("Not authorized for this match")
	case winner != m["created_by"] && winner != m["accepted_by"]:
		return reject("Winner must be a participant")
	case m["status"] != "IN_PROGRESS":
		return reject("Match is not in progress")
	}
	pot := num(m["total_pot_cents"])
	payout := pot - pot*s.FeePercent/100
	s.credit(winner, payout, "PAYOUT", "Match winnings")
	m["status"] = "COMPLETED"
	m["winner_id"] = winner
	m["updated_at"] = time.Now().UTC()
	s.emitLocked("matches", "UPDATE", m)
	s.insertLocked("notifications", Row{
		"user_id": winner, "type": "TRANSACTION", "title": "Match won",
		"content": fmt.Sprintf("You won $%d.%02d", payout/100, payout%100), "is_read": false,
	})
	return map[string]interface{}{"success": true, "match_id": m["id"], "payout_cents": payout}, nil
}

func (s *Server) cancelMatch(uid string, p params) (interface{}, *failure) {
	m := s.matchLocked(p.str("p_match_id"))
	switch {
	case m == nil:
		return reject("Match not found")
	case m["created_by"] != uid && (m["status"] != "ACCEPTED" || m["accepted_by"] != uid):
		return reject("Only the creator can cancel this match")
	case m["status"] != "CREATED" && m["status"] != "ACCEPTED":
		return reject("Match cannot be cancelled in its current state")
	}
	stake := num(m["stake_cents"])
	s.credit(str(m["created_by"]), stake, "REFUND", "Match cancelled")
	if acc, ok := m["accepted_by"].(string); ok && acc != "" {
		s.credit(acc, stake, "REFUND", "Match cancelled")
	}
	m["status"] = "CANCELLED"
	m["updated_at"] = time.Now().UTC()
	s.emitLocked("matches", "UPDATE", m)
	return map[string]interface{}{"success": true, "match_id": m["id"]}, nil
}

func (s *Server) mockDeposit(uid string, p params) (interface{}, *failure) {
	amount := p.num("amount_cents")
	if amount <= 0 {
		return reject("Invalid amount")
	}
	bal := s.credit(uid, amount, "DEPOSIT", "Test deposit")
	return map[string]interface{}{"success": true, "new_balance": bal}, nil
}

func (s *Server) requestWithdrawal(uid string, p params) (interface{}, *failure) {
	amount := p.num("p_amount_cents")
	method := p.str("p_method")
	switch {
	case amount <= 0:
		return reject("Invalid amount")
	case method != "BANK" && method != "PAYPAL" && method != "UPI":
		return reject("Invalid withdrawal method")
	}
	if w := s.walletLocked(uid); w == nil || num(w["balance_cents"]) < amount {
		return reject("Insufficient funds")
	}
	s.credit(uid, -amount, "WITHDRAWAL", "Withdrawal request")
	req := s.insertLocked("withdrawal_requests", Row{
		"user_id": uid, "amount_cents": amount, "method": method,
		"account_details": p["p_account_details"], "status": "PENDING",
	})
	return map[string]interface{}{"success": true, "request_id": req["id"]}, nil
}

func (s *Server) reconcileDeposit(uid string, p params) (interface{}, *failure) {
	ref := p.str("p_reference")
	amount := p.num("p_amount_cents")
	if amount <= 0 || ref == "" {
		return reject("Invalid amount")
	}
	for _, d := range s.tables["deposits"] {
		if d["reference"] == ref {
			return map[string]interface{}{"success": true, "new_balance": num(s.walletLocked(uid)["balance_cents"])}, nil
		}
	}
	if !s.chargeSettledLocked(p.str("p_provider"), ref, amount) {
		return reject("Payment could not be verified with the provider")
	}
	s.tables["deposits"] = append(s.tables["deposits"], Row{
		"reference": ref, "user_id": uid, "amount_cents": amount, "idempotency_key": p.str("p_idempotency_key"),
	})
	bal := s.credit(uid, amount, "DEPOSIT", "Deposit via "+p.str("p_provider"))
	return map[string]interface{}{"success": true, "new_balance": bal}, nil
}

func (s *Server) chargeSettledLocked(provider, ref string, amount int64) bool {
	switch provider {
	case "card":
		in := s.intents[ref]
		return in != nil && in["status"] == "succeeded" && num(in["amount"]) == amount
	case "hosted":
		for _, o := range s.orders {
			if o["capture_id"] == ref {
				return o["status"] == "COMPLETED" && num(o["amount_cents"]) == amount
			}
		}
		return false
	}
	return strings.HasPrefix(ref, "stub_")
}

func (s *Server) resolveTicket(uid string, p params) (interface{}, *failure) {
	u := s.users[uid]
	if u == nil || u.appMeta["role"] != "admin" {
		return reject("Not authorized")
	}
	for _, t := range s.tables["support_tickets"] {
		if t["id"] == p.str("p_ticket_id") {
			t["status"] = p.str("p_status")
			t["resolved_at"] = time.Now().UTC()
			s.emitLocked("support_tickets", "UPDATE", t)
			return map[string]interface{}{"success": true}, nil
		}
	}
	return reject("Ticket not found")
}

func (s *Server) suggestedMatches(uid string, p params) (interface{}, *failure) {
	out := []Row{}
	for _, m := range s.tables["matches"] {
		if m["status"] == "CREATED" && m["is_private"] == false && m["created_by"] != p.str("p_user_id") {
			out = append(out, s.decorateLocked("matches", m))
		}
		if len(out) == 5 {
			break
		}
	}
	return out, nil
}

func (s *Server) leavePenalty(uid string, p params) (interface{}, *failure) {
	for _, prof := range s.tables["profiles"] {
		if prof["id"] == p.str("p_user_id") {
			prof["reputation"] = num(prof["reputation"]) - 10
		}
	}
	return nil, nil
}

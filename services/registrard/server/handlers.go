package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"lukechampine.com/blake3"

	"caregistrar/crypto"
	"caregistrar/native/names"
	"caregistrar/services/registrard/journal"
)

const requestBodyLimit = 1 << 20 // 1 MiB

type domainView struct {
	Name         string                  `json:"name"`
	Owner        string                  `json:"owner"`
	RegisteredAt int64                   `json:"registeredAt"`
	ExpiresAt    int64                   `json:"expiresAt"`
	Phase        string                  `json:"phase"`
	Addresses    []names.ResolvedAddress `json:"addresses"`
}

func newDomainView(rec *names.DomainRecord, phase names.Phase) domainView {
	addrs := rec.Addresses
	if addrs == nil {
		addrs = []names.ResolvedAddress{}
	}
	return domainView{
		Name:         rec.Name,
		Owner:        crypto.FormatIdentity(rec.Owner),
		RegisteredAt: rec.RegisteredAt,
		ExpiresAt:    rec.ExpiresAt,
		Phase:        phase.String(),
		Addresses:    addrs,
	}
}

type receiptView struct {
	Domain    domainView `json:"domain"`
	Fee       uint64     `json:"fee"`
	OldExpiry int64      `json:"oldExpiry"`
	NewExpiry int64      `json:"newExpiry"`
}

func newReceiptView(rcpt *names.Receipt, phase names.Phase) receiptView {
	return receiptView{
		Domain:    newDomainView(rcpt.Record, phase),
		Fee:       rcpt.Fee,
		OldExpiry: rcpt.OldExpiry,
		NewExpiry: rcpt.NewExpiry,
	}
}

type configView struct {
	Authority          string `json:"authority"`
	BasePriceUSDCents  uint64 `json:"basePriceUsdCents"`
	GracePeriodSeconds int64  `json:"gracePeriodSeconds"`
	DomainsRegistered  uint64 `json:"domainsRegistered"`
	Paused             bool   `json:"paused"`
	Vault              string `json:"vault"`
	FeedID             string `json:"feedId"`
}

func (s *Server) newConfigView(cfg *names.RegistryConfig) configView {
	return configView{
		Authority:          crypto.FormatIdentity(cfg.Authority),
		BasePriceUSDCents:  cfg.BasePriceUSDCents,
		GracePeriodSeconds: cfg.GracePeriodSeconds,
		DomainsRegistered:  cfg.DomainsRegistered,
		Paused:             cfg.Paused,
		Vault:              crypto.FormatIdentity(s.reg.Vault()),
		FeedID:             s.feedID,
	}
}

type eventView struct {
	ID         string            `json:"id"`
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			badRequest(w, "request body required")
			return false
		}
		badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// nameParam returns the {name} path segment. chi matches on RawPath only when
// the request carried escapes that Path cannot round-trip (such as %2F), so
// the segment is unescaped in that case alone and is otherwise already
// decoded.
func nameParam(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	if r.URL.RawPath == "" {
		return raw
	}
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// identityOr parses value as an identity, falling back to def when empty.
func identityOr(value string, def [20]byte) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return def, nil
	}
	return crypto.ParseIdentity(value)
}

func mustCaller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "unauthenticated", "caller identity missing")
	}
	return caller, ok
}

// domainETag hashes the stored record and its phase so that both content
// changes and phase transitions invalidate cached copies.
func domainETag(rec *names.DomainRecord, phase names.Phase) (string, error) {
	raw, err := names.EncodeRecord(rec)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(append(raw, byte(phase)))
	return `"` + hex.EncodeToString(sum[:16]) + `"`, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.reg.Config(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.newConfigView(cfg))
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	rec, phase, err := s.reg.Resolve(r.Context(), nameParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	etag, err := domainETag(rec, phase)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, newDomainView(rec, phase))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("years")
	if raw == "" {
		raw = "1"
	}
	years, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		badRequest(w, "years must be a positive integer")
		return
	}
	fee, err := s.reg.Quote(r.Context(), years)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"years": years, "fee": fee, "feedId": s.feedID})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseIdentity(chi.URLParam(r, "addr"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	bal, err := s.reg.Balance(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": crypto.FormatIdentity(addr),
		"balance": bal.Dec(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeProblem(w, http.StatusServiceUnavailable, "journal_unavailable", "event journal not configured")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > journal.MaxRecent {
		limit = journal.MaxRecent
	}
	entries, err := s.journal.Recent(r.Context(), limit, r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eventView, 0, len(entries))
	for _, entry := range entries {
		evt, err := entry.Event()
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, eventView{
			ID:         entry.ID.String(),
			Sequence:   entry.Seq,
			Type:       evt.Type,
			Attributes: evt.Attributes,
			CreatedAt:  entry.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

type registerRequest struct {
	Name      string                  `json:"name"`
	Years     uint64                  `json:"years"`
	Addresses []names.ResolvedAddress `json:"addresses"`
	Owner     string                  `json:"owner"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, err := identityOr(req.Owner, caller)
	if err != nil {
		badRequest(w, "owner: "+err.Error())
		return
	}
	rcpt, err := s.reg.Register(r.Context(), caller, req.Name, req.Years, req.Addresses, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newReceiptView(rcpt, rcpt.Phase))
}

type renewRequest struct {
	Years uint64 `json:"years"`
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req renewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rcpt, err := s.reg.Renew(r.Context(), caller, nameParam(r), req.Years)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptView(rcpt, rcpt.Phase))
}

type buyRequest struct {
	Years     uint64                  `json:"years"`
	Addresses []names.ResolvedAddress `json:"addresses"`
	Owner     string                  `json:"owner"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, err := identityOr(req.Owner, caller)
	if err != nil {
		badRequest(w, "owner: "+err.Error())
		return
	}
	rcpt, err := s.reg.Buy(r.Context(), caller, nameParam(r), req.Years, req.Addresses, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptView(rcpt, rcpt.Phase))
}

type transferRequest struct {
	NewOwner string `json:"newOwner"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	newOwner, err := crypto.ParseIdentity(req.NewOwner)
	if err != nil {
		badRequest(w, "newOwner: "+err.Error())
		return
	}
	rcpt, err := s.reg.Transfer(r.Context(), caller, nameParam(r), newOwner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptView(rcpt, rcpt.Phase))
}

type addressesRequest struct {
	Addresses []names.ResolvedAddress `json:"addresses"`
}

func (s *Server) handleUpdateAddresses(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req addressesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rcpt, err := s.reg.UpdateAddresses(r.Context(), caller, nameParam(r), req.Addresses)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptView(rcpt, rcpt.Phase))
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		BasePriceUSDCents uint64 `json:"basePriceUsdCents"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.writeConfig(w)(s.reg.SetBasePrice(r.Context(), caller, req.BasePriceUSDCents))
}

func (s *Server) handleSetGracePeriod(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		GracePeriodSeconds int64 `json:"gracePeriodSeconds"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.writeConfig(w)(s.reg.SetGracePeriod(r.Context(), caller, req.GracePeriodSeconds))
}

func (s *Server) handleSetAuthority(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Authority string `json:"authority"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	next, err := crypto.ParseIdentity(req.Authority)
	if err != nil {
		badRequest(w, "authority: "+err.Error())
		return
	}
	s.writeConfig(w)(s.reg.SetAuthority(r.Context(), caller, next))
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Paused bool `json:"paused"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.writeConfig(w)(s.reg.SetPaused(r.Context(), caller, req.Paused))
}

func (s *Server) writeConfig(w http.ResponseWriter) func(*names.RegistryConfig, error) {
	return func(cfg *names.RegistryConfig, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.newConfigView(cfg))
	}
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	paid, err := s.reg.Withdraw(r.Context(), caller, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"amount": paid, "to": crypto.FormatIdentity(caller)})
}

func (s *Server) handleSetExpiry(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Name      string `json:"name"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.reg.SetExpiry(r.Context(), caller, req.Name, req.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	_, phase, err := s.reg.Resolve(r.Context(), rec.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDomainView(rec, phase))
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	caller, ok := mustCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Account string `json:"account"`
		Amount  uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := crypto.ParseIdentity(req.Account)
	if err != nil {
		badRequest(w, "account: "+err.Error())
		return
	}
	bal, err := s.reg.Credit(r.Context(), caller, account, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": crypto.FormatIdentity(account),
		"balance": bal.Dec(),
	})
}

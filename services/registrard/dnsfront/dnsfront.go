// Package dnsfront answers TXT queries for registered names so that plain DNS
// clients can resolve a name's chain addresses.
package dnsfront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"

	"caregistrar/native/names"
)

// Resolver looks up a record and its lifecycle phase.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*names.DomainRecord, names.Phase, error)
}

// Server is a UDP DNS responder for one zone.
type Server struct {
	zone     string
	ttl      uint32
	timeout  time.Duration
	resolver Resolver
	logger   *slog.Logger
}

// New returns a responder for zone. The zone is made fully qualified.
func New(zone string, ttl time.Duration, resolver Resolver, logger *slog.Logger) (*Server, error) {
	if resolver == nil {
		return nil, fmt.Errorf("dnsfront: resolver required")
	}
	zone = strings.ToLower(strings.TrimSpace(zone))
	if zone == "" || zone == "." {
		return nil, fmt.Errorf("dnsfront: zone required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Server{
		zone:     dns.Fqdn(zone),
		ttl:      uint32(ttl / time.Second),
		timeout:  2 * time.Second,
		resolver: resolver,
		logger:   logger,
	}, nil
}

// Zone returns the fully qualified zone served.
func (s *Server) Zone() string { return s.zone }

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true

	if len(r.Question) == 0 {
		msg.Rcode = dns.RcodeFormatError
		s.write(w, msg)
		return
	}
	question := r.Question[0]
	qname := strings.ToLower(question.Name)
	label, ok := s.nameFor(qname)
	if !ok {
		msg.Authoritative = false
		msg.Rcode = dns.RcodeRefused
		s.write(w, msg)
		return
	}
	if question.Qtype != dns.TypeTXT {
		msg.Rcode = dns.RcodeNotImplemented
		s.write(w, msg)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	rec, phase, err := s.resolver.Resolve(ctx, label)
	switch {
	case err == nil && phase.Resolvable():
		msg.Answer = s.answer(question.Name, rec)
	case err == nil,
		errors.Is(err, names.ErrDomainNotFound),
		errors.Is(err, names.ErrInvalidDomainLength):
		msg.Rcode = dns.RcodeNameError
	default:
		s.logger.Warn("dnsfront: resolve failed", slog.String("name", label), slog.Any("error", err))
		msg.Rcode = dns.RcodeServerFailure
	}
	s.write(w, msg)
}

// nameFor strips the zone from qname and converts punycode labels.
func (s *Server) nameFor(qname string) (string, bool) {
	if !strings.HasSuffix(qname, "."+s.zone) {
		return "", false
	}
	label := strings.TrimSuffix(qname, "."+s.zone)
	if label == "" {
		return "", false
	}
	if unicode, err := idna.ToUnicode(label); err == nil {
		label = unicode
	}
	return label, true
}

func (s *Server) answer(owner string, rec *names.DomainRecord) []dns.RR {
	out := make([]dns.RR, 0, len(rec.Addresses))
	for _, addr := range rec.Addresses {
		out = append(out, &dns.TXT{
			Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: s.ttl},
			Txt: []string{fmt.Sprintf("chain=%d address=%s", addr.ChainID, addr.Address)},
		})
	}
	return out
}

func (s *Server) write(w dns.ResponseWriter, msg *dns.Msg) {
	if err := w.WriteMsg(msg); err != nil {
		s.logger.Warn("dnsfront: write response", slog.Any("error", err))
	}
}

// Serve answers queries on pc until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, pc net.PacketConn) error {
	server := &dns.Server{PacketConn: pc, Net: "udp", Handler: s}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.ShutdownContext(shutdownCtx)
	}()
	s.logger.Info("dnsfront: listening", slog.String("addr", pc.LocalAddr().String()), slog.String("zone", s.zone))
	if err := server.ActivateAndServe(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dnsfront: serve: %w", err)
	}
	return nil
}

// ListenAndServe binds addr over UDP and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("dnsfront: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, pc)
}

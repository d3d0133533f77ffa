// Package webhook exposes the HTTP front end that receives platform event
// deliveries and feeds them into the dispatch pipeline. Business-level
// problems inside a delivery never surface as HTTP errors; the platform
// retries on anything but a fast 200.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"waveline/pkg/config"
	"waveline/pkg/dispatch"
	"waveline/pkg/update"
)

const maxBodyBytes = 1 << 20
const signatureHeader = "X-Hub-Signature-256"

// Server terminates webhook HTTP traffic for one business number.
type Server struct {
	cfg        config.WebhookConfig
	verifyTok  string
	appSecret  string
	dispatcher *dispatch.Dispatcher
	replier    update.Replier
	log        *slog.Logger

	startedAt time.Time
	received  atomic.Uint64
	rejected  atomic.Uint64
}

// NewServer wires the webhook front end to a dispatcher. The replier is
// bound onto every decoded update so handlers and listeners can respond
// in place; it may be nil when the process has no outbound credentials.
func NewServer(cfg config.WebhookConfig, platform config.PlatformConfig, d *dispatch.Dispatcher, replier update.Replier, log *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("dispatcher is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		cfg:        cfg,
		verifyTok:  strings.TrimSpace(platform.VerifyToken),
		appSecret:  strings.TrimSpace(platform.AppSecret),
		dispatcher: d,
		replier:    replier,
		log:        log.With("component", "webhook"),
	}, nil
}

// Run serves webhook traffic until the context is canceled or the listener
// fails. Shutdown drains in-flight requests for up to five seconds.
func (s *Server) Run(ctx context.Context) error {
	s.startedAt = time.Now().UTC()

	host := strings.TrimSpace(s.cfg.Host)
	addr := host + ":" + strconv.Itoa(s.cfg.Port)

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebhook)
	mux.HandleFunc("/healthz", s.handleHealth)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("Webhook server started", "address", addr, "path", s.cfg.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("start webhook server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-serverErrors:
		return err
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleVerify(w, r)
	case http.MethodPost:
		s.handleDelivery(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the platform's subscription handshake by echoing
// hub.challenge when the verify token matches.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode != "subscribe" || s.verifyTok == "" || token != s.verifyTok {
		s.log.Warn("Rejected webhook verification", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	s.log.Info("Webhook verification accepted")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID := uuid.NewString()
	log := s.log.With("delivery_id", deliveryID)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		log.Error("Failed to read delivery body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !s.verifySignature(log, r.Header.Get(signatureHeader), body) {
		s.rejected.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	// The platform retries on non-2xx. Everything past this point is our
	// problem, not the platform's, so always ack.
	w.WriteHeader(http.StatusOK)
	s.received.Add(1)

	updates, err := update.Decode(body)
	if err != nil {
		log.Warn("Discarded undecodable delivery", "error", err)
		return
	}

	for _, u := range updates {
		if s.replier != nil {
			u.BindReplier(s.replier)
		}
		if !s.dispatcher.Enqueue(r.Context(), u) {
			log.Warn("Dropped update, queue unavailable", "update_id", u.ID, "kind", u.Kind)
			continue
		}
		log.Debug("Enqueued update", "update_id", u.ID, "kind", u.Kind)
	}
}

// verifySignature checks the hex HMAC-SHA256 carried by the signature
// header. An unset app secret disables verification.
func (s *Server) verifySignature(log *slog.Logger, header string, body []byte) bool {
	if s.appSecret == "" {
		log.Debug("Signature verification disabled, no app secret configured")
		return true
	}

	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		log.Warn("Rejected delivery without signature header")
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		log.Warn("Rejected delivery with invalid signature")
		return false
	}

	return true
}

type healthResponse struct {
	Status             string `json:"status"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
	Received           uint64 `json:"received"`
	RejectedDeliveries uint64 `json:"rejected_deliveries"`
	RoutedUpdates      uint64 `json:"routed_updates"`
	DroppedDuplicates  uint64 `json:"dropped_duplicates"`
	PendingListeners   int    `json:"pending_listeners"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	routed, dropped := s.dispatcher.Stats()
	payload := healthResponse{
		Status:             "ok",
		UptimeSeconds:      uptime,
		Received:           s.received.Load(),
		RejectedDeliveries: s.rejected.Load(),
		RoutedUpdates:      routed,
		DroppedDuplicates:  dropped,
		PendingListeners:   s.dispatcher.PendingListeners(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write health response", "error", err)
	}
}

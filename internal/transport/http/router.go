package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"trivia-session-service/internal/app"
	"trivia-session-service/internal/domain"
)

const (
	qrSize         = 320 // mobile-friendly size
	maxRequestBody = 1 << 16
)

// RouterConfig configures the REST surface.
type RouterConfig struct {
	// PublicURL is the externally visible base URL used in share links. Derived from the
	// request when empty.
	PublicURL string
	Logger    *slog.Logger
}

// NewRouter wires the REST endpoints and the websocket upgrade route.
func NewRouter(ctrl *app.Controller, hub *Hub, cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	api := &restAPI{ctrl: ctrl, log: cfg.Logger, publicURL: strings.TrimSuffix(cfg.PublicURL, "/")}
	ws := NewWSHandler(ctrl, hub, cfg.Logger)

	mux := httprouter.New()
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		cfg.Logger.Error("panic serving request", "path", r.URL.Path, "panic", v)
		writeError(w, cfg.Logger, errors.New("panic"))
	}

	mux.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	mux.POST("/sessions", api.createSession)
	mux.GET("/sessions/:code", api.getSession)
	mux.GET("/sessions/:code/results", api.getResults)
	mux.GET("/sessions/:code/qr", api.getQR)
	mux.GET("/join/:code", api.join)
	mux.GET("/ws/:code", ws.ServeWS)
	return mux
}

type restAPI struct {
	ctrl      *app.Controller
	log       *slog.Logger
	publicURL string
}

type createSessionResponse struct {
	domain.SessionSnapshot
	JoinURL string `json:"joinUrl"`
}

func (a *restAPI) createSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req app.CreateSessionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, a.log, domain.NewError(domain.KindInvalidRequest, "malformed request body"))
		return
	}

	snap, err := a.ctrl.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionSnapshot: snap, JoinURL: a.joinURL(r, snap.Code)})
}

func (a *restAPI) getSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	snap, err := a.ctrl.Snapshot(r.Context(), ps.ByName("code"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *restAPI) getResults(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	results, err := a.ctrl.Results(r.Context(), ps.ByName("code"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// getQR renders a PNG QR code of the lobby join link.
func (a *restAPI) getQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	snap, err := a.ctrl.Snapshot(r.Context(), ps.ByName("code"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	png, err := qrcode.Encode(a.joinURL(r, snap.Code), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// join is the target of share links; it resolves the code and redirects to the lobby view.
func (a *restAPI) join(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	snap, err := a.ctrl.Snapshot(r.Context(), ps.ByName("code"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	http.Redirect(w, r, "/sessions/"+snap.Code, http.StatusFound)
}

func (a *restAPI) joinURL(r *http.Request, code string) string {
	base := a.publicURL
	if base == "" {
		// respect TLS and X-Forwarded-Proto if present
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/join/" + code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	body := errorBody(log, err)
	writeJSON(w, statusFor(body.Error), body)
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindSessionNotFound:
		return http.StatusNotFound
	case domain.KindNotHost, domain.KindPlayerNotInSession:
		return http.StatusForbidden
	case domain.KindInvalidRequest, domain.KindInvalidAnswerValue:
		return http.StatusBadRequest
	case domain.KindSessionFull, domain.KindAlreadyJoined, domain.KindNotEnoughPlayers,
		domain.KindStaleQuestion, domain.KindDuplicateAnswer, domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindQuestionsUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

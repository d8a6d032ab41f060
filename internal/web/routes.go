package web

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Routes mounts the auth surface on a fresh mux. The returned handler
// starts a span per request against the globally registered tracer
// provider.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register/begin", h.handleRegisterBegin)
	mux.HandleFunc("POST /auth/register/complete", h.handleRegisterComplete)
	mux.HandleFunc("POST /auth/login/begin", h.handleLoginBegin)
	mux.HandleFunc("POST /auth/login/complete", h.handleLoginComplete)

	mux.HandleFunc("POST /auth/recovery/request", h.handleRecoveryRequest)
	mux.HandleFunc("POST /auth/recovery/confirm", h.handleRecoveryConfirm)
	mux.HandleFunc("POST /auth/recovery/register/begin", h.handleRecoveryRegisterBegin)
	mux.HandleFunc("POST /auth/recovery/register/complete", h.handleRecoveryRegisterComplete)

	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /auth/session", h.handleSession)

	return otelhttp.NewHandler(mux, "repset.auth",
		otelhttp.WithSpanNameFormatter(spanName))
}

// spanName names spans after the route rather than otelhttp's single
// operation name, so traces distinguish the ceremony endpoints.
func spanName(_ string, r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

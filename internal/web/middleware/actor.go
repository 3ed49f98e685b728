package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/logging"
)

// ActorHeader names the user on whose behalf a request is made.
// Authenticating that user is the caller's job.
const ActorHeader = "X-Actor-ID"

const maxActorLen = 200

// Actor stores the caller's actor id, IP and user agent in the request
// context for audit events, and tags the context logger with the actor.
// Run it after TrustedRealIP so the IP is the client's.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if len(actor) > maxActorLen {
			actor = actor[:maxActorLen]
		}

		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}

		ctx := core.WithRequestMeta(r.Context(), core.RequestMeta{
			ActorID:   actor,
			IPAddress: ip,
			UserAgent: r.UserAgent(),
		})
		if actor != "" {
			ctx = logging.NewContext(ctx, logging.FromContext(ctx).With("actor_id", actor))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"loyalty-ledger/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type contextKey string

const contextKeyActor contextKey = "loyalty.actor"

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	roleAdmin      = "admin"
)

// WithActor stores the authenticated caller in ctx.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, contextKeyActor, actor)
}

// ActorFrom returns the caller set by Authenticator.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(contextKeyActor).(models.Actor)
	return actor, ok && actor.UserID != ""
}

type AuthConfig struct {
	// HMACSecret enables bearer-token auth.
	HMACSecret string
	// TrustHeaders takes the caller from X-User-ID and X-User-Role when no secret is
	// set. It is only meant for local development or behind a gateway that strips
	// those headers. With neither set every request is rejected.
	TrustHeaders bool
	Issuer       string
	ClockSkew    time.Duration
}

// Authenticator resolves the caller from an HS256 JWT (sub and role claims) or the
// trusted identity headers.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	log    logrus.FieldLogger
}

func NewAuthenticator(cfg AuthConfig, log logrus.FieldLogger) *Authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	a := &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), log: log}
	switch {
	case len(a.secret) > 0:
	case cfg.TrustHeaders:
		log.Warnf("no JWT secret configured, trusting %s and %s headers", HeaderUserID, HeaderUserRole)
	default:
		log.Error("no JWT secret configured and header identity disabled, all requests will be rejected")
	}
	return a
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var actor models.Actor
		if len(a.secret) == 0 {
			if !a.cfg.TrustHeaders {
				WriteError(w, http.StatusUnauthorized, "authentication is not configured", false)
				return
			}
			actor = models.Actor{
				UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
				Admin:  strings.EqualFold(r.Header.Get(HeaderUserRole), roleAdmin),
			}
			if actor.UserID == "" {
				WriteError(w, http.StatusUnauthorized, "missing "+HeaderUserID+" header", false)
				return
			}
		} else {
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				WriteError(w, http.StatusUnauthorized, "missing bearer token", false)
				return
			}
			var err error
			actor, err = a.parseToken(tokenString)
			if err != nil {
				a.log.WithError(err).Debug("token validation failed")
				WriteError(w, http.StatusUnauthorized, "invalid token", false)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func (a *Authenticator) parseToken(tokenString string) (models.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return models.Actor{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.Actor{}, errors.New("token invalid")
	}

	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return models.Actor{}, errors.New("subject claim missing")
	}
	role, _ := claims["role"].(string)
	return models.Actor{UserID: sub, Admin: strings.EqualFold(role, roleAdmin)}, nil
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

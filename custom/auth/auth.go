package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/romana/rlog"
	"preorder_hub/constants"
	"preorder_hub/custom/util"
	"preorder_hub/model"
)

const SESSION_COOKIE = "session"

var (
	ErrInvalidCredentials = errors.New(constants.INVALID_CREDENTIALS)
	ErrInvalidToken       = errors.New("invalid session token")
)

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == constants.ROLE_ADMIN
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns nil for anonymous requests.
func PrincipalFrom(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalKey{}).(*Principal)
	return principal
}

// Authenticator issues and verifies HS256 session tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(cfg util.AuthConfig) *Authenticator {
	return &Authenticator{
		secret: []byte(cfg.SessionSecret),
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}
}

func (a *Authenticator) IssueToken(user *model.User) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  user.Role,
		"iat":   now.Unix(),
		"exp":   now.Add(a.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) ParseToken(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	return &Principal{UserID: subject, Email: email, Role: role}, nil
}

// Authenticated rejects requests without a valid session with 401.
func (a *Authenticator) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := tokenFromRequest(r)
		if tokenString == "" {
			util.WriteError(w, http.StatusUnauthorized, constants.UNAUTHORIZED)
			return
		}
		principal, err := a.ParseToken(tokenString)
		if err != nil {
			rlog.Info("Reject session:", err.Error())
			util.WriteError(w, http.StatusUnauthorized, constants.UNAUTHORIZED)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Optional attaches the principal when a valid session is present and never rejects.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenString := tokenFromRequest(r); tokenString != "" {
			if principal, err := a.ParseToken(tokenString); err == nil {
				r = r.WithContext(WithPrincipal(r.Context(), principal))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole must run after Authenticated.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFrom(r.Context())
			if principal == nil {
				util.WriteError(w, http.StatusUnauthorized, constants.UNAUTHORIZED)
				return
			}
			if principal.Role != role {
				util.WriteError(w, http.StatusForbidden, constants.FORBIDDEN)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
		return ""
	}
	if cookie, err := r.Cookie(SESSION_COOKIE); err == nil {
		return cookie.Value
	}
	return ""
}

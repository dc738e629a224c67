package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/romana/rlog"
	"golang.org/x/crypto/bcrypt"
	"preorder_hub/custom/store"
	"preorder_hub/custom/util"
	"preorder_hub/model"
)

type HandlerContext struct {
	store         *store.Store
	authenticator *Authenticator
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

func (ctx *HandlerContext) InitialHandlerContext(store *store.Store, authenticator *Authenticator) {
	ctx.store = store
	ctx.authenticator = authenticator
}

// Login exchanges email and password for a session token, also set as the session cookie.
func (ctx *HandlerContext) Login(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodPost}, w, r) {
		return
	}

	req := LoginRequest{}
	if err := util.FetchReqObject(r, &req); err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := ctx.verify(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			util.WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}
		rlog.Error("Login failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	token, err := ctx.authenticator.IssueToken(user)
	if err != nil {
		rlog.Error("Issue token failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SESSION_COOKIE,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ctx.authenticator.ttl.Seconds()),
	})
	rlog.Infof("User %s logged in", user.ID)
	util.WriteJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

func (ctx *HandlerContext) verify(c context.Context, email string, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := ctx.store.FindUserByEmail(c, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

package user

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/romana/rlog"
	"golang.org/x/crypto/bcrypt"
	"preorder_hub/constants"
	"preorder_hub/custom/auth"
	"preorder_hub/custom/store"
	"preorder_hub/custom/util"
	"preorder_hub/model"
)

const MIN_PASSWORD_LENGTH = 8

type HandlerContext struct {
	store *store.Store
	auth  util.AuthConfig
}

type SignupRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     *string `json:"name,omitempty"`
}

type LeaksRequest struct {
	Amount int `json:"amount"`
}

type LeaksResponse struct {
	Leaks int `json:"leaks"`
}

func (ctx *HandlerContext) InitialHandlerContext(store *store.Store, authConfig util.AuthConfig) {
	ctx.store = store
	ctx.auth = authConfig
}

// Signup creates an account. Emails listed in the admin configuration get the admin role.
func (ctx *HandlerContext) Signup(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodPost}, w, r) {
		return
	}

	req := SignupRequest{}
	if err := util.FetchReqObject(r, &req); err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		util.WriteError(w, http.StatusBadRequest, constants.INVALID_EMAIL)
		return
	}
	if len(req.Password) < MIN_PASSWORD_LENGTH {
		util.WriteError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		rlog.Error("Hash password failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	role := constants.ROLE_USER
	if ctx.auth.IsAdminEmail(email) {
		role = constants.ROLE_ADMIN
	}
	newUser := model.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if err = ctx.store.InsertUser(r.Context(), &newUser); err != nil {
		if errors.Is(err, store.ErrConflict) {
			util.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		rlog.Error("Create user failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rlog.Infof("User %s signed up with role %s", newUser.ID, role)
	util.WriteJSON(w, http.StatusCreated, newUser)
}

func (ctx *HandlerContext) GetLeaks(w http.ResponseWriter, r *http.Request) {
	if !util.IsAllowHttpMethod([]string{http.MethodGet}, w, r) {
		return
	}
	principal := auth.PrincipalFrom(r.Context())
	if principal == nil {
		util.WriteError(w, http.StatusUnauthorized, constants.UNAUTHORIZED)
		return
	}
	found, err := ctx.store.FindUserByID(r.Context(), principal.UserID)
	if err != nil {
		writeLeaksError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, LeaksResponse{Leaks: found.Leaks})
}

func (ctx *HandlerContext) DecrementLeaks(w http.ResponseWriter, r *http.Request) {
	ctx.updateLeaks(w, r, -1)
}

func (ctx *HandlerContext) IncrementLeaks(w http.ResponseWriter, r *http.Request) {
	ctx.updateLeaks(w, r, 1)
}

func (ctx *HandlerContext) updateLeaks(w http.ResponseWriter, r *http.Request, sign int) {
	if !util.IsAllowHttpMethod([]string{http.MethodPost}, w, r) {
		return
	}
	principal := auth.PrincipalFrom(r.Context())
	if principal == nil {
		util.WriteError(w, http.StatusUnauthorized, constants.UNAUTHORIZED)
		return
	}
	req := LeaksRequest{}
	if err := util.FetchReqObject(r, &req); err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount < 1 {
		util.WriteError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}

	updated, err := ctx.store.UpdateUserLeaks(r.Context(), principal.UserID, sign*req.Amount)
	if err != nil {
		writeLeaksError(w, err)
		return
	}
	rlog.Infof("User %s leaks changed by %d to %d", principal.UserID, sign*req.Amount, updated.Leaks)
	util.WriteJSON(w, http.StatusOK, LeaksResponse{Leaks: updated.Leaks})
}

func writeLeaksError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInsufficientLeaks):
		util.WriteError(w, http.StatusBadRequest, constants.INSUFFICIENT_LEAKS)
	case errors.Is(err, store.ErrUserNotFound):
		util.WriteError(w, http.StatusNotFound, constants.USER_NOT_FOUND)
	default:
		rlog.Error("Update leaks failed:", err.Error())
		util.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

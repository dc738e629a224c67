package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"preorder_hub/constants"
	"preorder_hub/custom/auth"
	"preorder_hub/custom/email"
	"preorder_hub/custom/order"
	"preorder_hub/custom/preorder"
	"preorder_hub/custom/purchase"
	"preorder_hub/custom/user"
	"preorder_hub/custom/util"
	"preorder_hub/custom/webhook"
)

// Handlers groups the handler contexts served by the hub.
type Handlers struct {
	Authenticator *auth.Authenticator
	Auth          *auth.HandlerContext
	User          *user.HandlerContext
	Purchase      *purchase.HandlerContext
	Order         *order.HandlerContext
	Webhook       *webhook.HandlerContext
	Preorder      *preorder.HandlerContext
	Email         *email.HandlerContext
}

func NewRouter(h Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(util.RequestLogger)
	r.Use(middleware.Recoverer)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		util.WriteError(w, http.StatusMethodNotAllowed, "Not allow http method")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		util.WriteError(w, http.StatusNotFound, "Not found")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/auth/signup", h.User.Signup)
	r.Post("/auth/login", h.Auth.Login)
	r.Get("/payment/config", h.Purchase.PaymentConfig)
	r.Post("/webhook", h.Webhook.Receive)
	r.Post("/preorders/generate", h.Preorder.Generate)
	r.Get("/preorders/latest", h.Preorder.Latest)
	r.Post("/email/subscribe", h.Email.Subscribe)
	r.Post("/email/unsubscribe", h.Email.Unsubscribe)

	// the purchase and subscription services answer anonymous callers themselves
	r.With(h.Authenticator.Optional).Post("/create-payment-intent", h.Purchase.CreatePaymentIntent)
	r.With(h.Authenticator.Optional).Get("/subscriptions", h.Order.Subscriptions)

	r.Group(func(r chi.Router) {
		r.Use(h.Authenticator.Authenticated)
		r.Get("/leaks", h.User.GetLeaks)
		r.Post("/leaks/decrement", h.User.DecrementLeaks)
		r.Post("/leaks/increment", h.User.IncrementLeaks)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.Authenticator.Authenticated)
		r.Use(auth.RequireRole(constants.ROLE_ADMIN))
		r.Get("/orders", h.Order.ListOrders)
		r.Get("/admin/orders", h.Order.AdminOrders)
		r.Get("/admin/orders/export", h.Order.ExportOrders)
		r.Post("/admin/orders/status", h.Order.UpdateStatus)
		r.Get("/admin/dashboard", h.Order.Dashboard)
		r.Get("/admin/preorders", h.Preorder.List)
		r.Post("/admin/preorders", h.Preorder.Create)
		r.Get("/admin/emails", h.Email.List)
	})

	return r
}

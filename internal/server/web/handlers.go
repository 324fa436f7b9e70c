package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/flashstacks/flashstacks/internal/atproto"
	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/flashstacks/flashstacks/internal/lang"
	"github.com/flashstacks/flashstacks/internal/logging"
	"github.com/flashstacks/flashstacks/internal/server/auth"
	"github.com/flashstacks/flashstacks/internal/server/models"
	"github.com/flashstacks/flashstacks/internal/server/services"
)

const sessionCookie = "flashstacks_session"

// Handler wires the HTTP routes to the coordinators and the auth flow.
type Handler struct {
	stacks StackService
	cards  CardService
	cloner CloneService
	authz  auth.Authorizer
	jwt    *auth.JWTManager
	langs  *lang.Table
	pages  pages
	logger logging.Logger
}

func NewHandler(stacks StackService, cards CardService, cloner CloneService, authz auth.Authorizer, jwt *auth.JWTManager, langs *lang.Table, logger logging.Logger) (*Handler, error) {
	p, err := parsePages()
	if err != nil {
		return nil, err
	}
	return &Handler{
		stacks: stacks,
		cards:  cards,
		cloner: cloner,
		authz:  authz,
		jwt:    jwt,
		langs:  langs,
		pages:  p,
		logger: logger.With("module", "web"),
	}, nil
}

// Routes returns the full route table.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.home)
	mux.HandleFunc("GET /login", h.loginPage)
	mux.HandleFunc("POST /login", h.loginStart)
	mux.HandleFunc("GET /oauth/callback", h.oauthCallback)
	mux.HandleFunc("POST /logout", h.logout)

	mux.HandleFunc("GET /stacks", h.requireAuth(h.listStacks))
	mux.HandleFunc("GET /stacks/new", h.requireAuth(h.newStackForm))
	mux.HandleFunc("POST /stacks", h.requireAuth(h.createStack))
	mux.HandleFunc("POST /stacks/clone", h.requireAuth(h.cloneStack))
	mux.HandleFunc("GET /stacks/{rkey}", h.requireAuth(h.stackDetail))
	mux.HandleFunc("GET /stacks/{rkey}/edit", h.requireAuth(h.editStackForm))
	mux.HandleFunc("POST /stacks/{rkey}", h.requireAuth(h.updateStack))
	mux.HandleFunc("POST /stacks/{rkey}/delete", h.requireAuth(h.deleteStack))

	mux.HandleFunc("POST /stacks/{rkey}/cards", h.requireAuth(h.createCard))
	mux.HandleFunc("GET /stacks/{rkey}/cards/{crkey}/edit", h.requireAuth(h.editCardForm))
	mux.HandleFunc("POST /stacks/{rkey}/cards/{crkey}", h.requireAuth(h.updateCard))
	mux.HandleFunc("POST /stacks/{rkey}/cards/{crkey}/delete", h.requireAuth(h.deleteCard))

	return mux
}

// requireAuth resolves the session cookie into a DID and rejects requests
// without a valid one.
func (h *Handler) requireAuth(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		did, err := h.sessionDID(r)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r, did)
	}
}

func (h *Handler) sessionDID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", common.ErrUnauthorized
	}
	return h.jwt.ParseToken(cookie.Value)
}

// stackView and cardView flatten the models for templates: the rkey becomes
// the path segment and nil languages render as empty strings.
type stackView struct {
	URI       string
	RKey      string
	Label     string
	FrontLang string
	BackLang  string
}

type cardView struct {
	RKey      string
	FrontLang string
	FrontText string
	BackLang  string
	BackText  string
}

func viewStack(s *models.Stack) stackView {
	v := stackView{URI: s.URI, Label: s.Label}
	if parsed, err := atproto.ParseURI(s.URI); err == nil {
		v.RKey = parsed.RKey
	}
	if s.FrontLang != nil {
		v.FrontLang = *s.FrontLang
	}
	if s.BackLang != nil {
		v.BackLang = *s.BackLang
	}
	return v
}

func viewCard(c *models.Card) cardView {
	v := cardView{
		FrontLang: c.FrontLang,
		FrontText: c.FrontText,
		BackLang:  c.BackLang,
		BackText:  c.BackText,
	}
	if parsed, err := atproto.ParseURI(c.URI); err == nil {
		v.RKey = parsed.RKey
	}
	return v
}

// stackURI reconstructs the at:// URI of the caller's own stack from the
// path rkey. Ownership is still enforced by the services.
func stackURI(did, rkey string) string {
	return atproto.URI{DID: did, Collection: atproto.StackCollection, RKey: rkey}.String()
}

func cardURI(did, rkey string) string {
	return atproto.URI{DID: did, Collection: atproto.CardCollection, RKey: rkey}.String()
}

type homeData struct {
	DID    string
	Handle string
	Error  string
	Stacks []stackView
}

// home shows the visitor's profile and stacks when logged in, and a login
// prompt otherwise.
func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	did, err := h.sessionDID(r)
	if err != nil {
		h.render(w, r, http.StatusOK, "home.html", homeData{})
		return
	}

	data := homeData{DID: did}
	if session, err := h.authz.Session(r.Context(), did); err == nil {
		data.Handle = session.Handle
	}
	result, err := h.stacks.List(r.Context(), did)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for _, s := range result {
		data.Stacks = append(data.Stacks, viewStack(s))
	}
	h.render(w, r, http.StatusOK, "home.html", data)
}

func (h *Handler) loginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "login.html", struct {
		DID   string
		Error string
	}{})
}

func (h *Handler) loginStart(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue("handle")
	if handle == "" {
		h.render(w, r, http.StatusBadRequest, "login.html", struct {
			DID   string
			Error string
		}{Error: "handle is required"})
		return
	}
	target, err := h.authz.AuthorizeURL(r.Context(), handle)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	session, err := h.authz.Callback(r.Context(), r.FormValue("code"), r.FormValue("state"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.jwt.CreateToken(session.DID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.jwt.TokenTTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/stacks", http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if did, err := h.sessionDID(r); err == nil {
		if err := h.authz.Logout(r.Context(), did); err != nil {
			h.logger.Warn(r.Context(), "logout failed to drop session", "did", did, "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) listStacks(w http.ResponseWriter, r *http.Request, did string) {
	result, err := h.stacks.List(r.Context(), did)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]stackView, 0, len(result))
	for _, s := range result {
		views = append(views, viewStack(s))
	}
	h.render(w, r, http.StatusOK, "stacks.html", struct {
		DID    string
		Error  string
		Stacks []stackView
	}{DID: did, Stacks: views})
}

type stackFormData struct {
	DID   string
	Error string
	Stack *stackView
	Langs []lang.Choice
}

func (h *Handler) newStackForm(w http.ResponseWriter, r *http.Request, did string) {
	h.render(w, r, http.StatusOK, "stack_form.html", stackFormData{DID: did, Langs: h.langs.Choices()})
}

func (h *Handler) createStack(w http.ResponseWriter, r *http.Request, did string) {
	in := services.StackInput{
		Label:     r.FormValue("label"),
		FrontLang: r.FormValue("front_lang"),
		BackLang:  r.FormValue("back_lang"),
	}
	if _, err := h.stacks.Create(r.Context(), did, in); err != nil {
		if errors.Is(err, common.ErrValidation) {
			h.render(w, r, http.StatusBadRequest, "stack_form.html", stackFormData{
				DID: did, Error: err.Error(), Langs: h.langs.Choices(),
			})
			return
		}
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/stacks", http.StatusSeeOther)
}

func (h *Handler) stackDetail(w http.ResponseWriter, r *http.Request, did string) {
	uri := stackURI(did, r.PathValue("rkey"))
	stack, err := h.stacks.GetOwned(r.Context(), did, uri)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cardList, err := h.cards.ListForStack(r.Context(), uri)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]cardView, 0, len(cardList))
	for _, c := range cardList {
		views = append(views, viewCard(c))
	}
	sv := viewStack(stack)
	h.render(w, r, http.StatusOK, "stack_detail.html", struct {
		DID   string
		Error string
		Stack stackView
		Cards []cardView
		Langs []lang.Choice
	}{DID: did, Stack: sv, Cards: views, Langs: h.langs.Choices()})
}

func (h *Handler) editStackForm(w http.ResponseWriter, r *http.Request, did string) {
	uri := stackURI(did, r.PathValue("rkey"))
	stack, err := h.stacks.GetOwned(r.Context(), did, uri)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sv := viewStack(stack)
	h.render(w, r, http.StatusOK, "stack_form.html", stackFormData{DID: did, Stack: &sv, Langs: h.langs.Choices()})
}

func (h *Handler) updateStack(w http.ResponseWriter, r *http.Request, did string) {
	uri := stackURI(did, r.PathValue("rkey"))
	in := services.StackInput{
		Label:     r.FormValue("label"),
		FrontLang: r.FormValue("front_lang"),
		BackLang:  r.FormValue("back_lang"),
	}
	if _, err := h.stacks.Update(r.Context(), did, uri, in); err != nil {
		if errors.Is(err, common.ErrValidation) {
			stack, gerr := h.stacks.GetOwned(r.Context(), did, uri)
			if gerr != nil {
				h.fail(w, r, gerr)
				return
			}
			sv := viewStack(stack)
			h.render(w, r, http.StatusBadRequest, "stack_form.html", stackFormData{
				DID: did, Error: err.Error(), Stack: &sv, Langs: h.langs.Choices(),
			})
			return
		}
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/stacks", http.StatusSeeOther)
}

func (h *Handler) deleteStack(w http.ResponseWriter, r *http.Request, did string) {
	if err := h.stacks.Delete(r.Context(), did, stackURI(did, r.PathValue("rkey"))); err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/stacks", http.StatusSeeOther)
}

func (h *Handler) cloneStack(w http.ResponseWriter, r *http.Request, did string) {
	srcURI := r.FormValue("uri")
	if _, err := atproto.ParseURI(srcURI); err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", common.ErrValidation, err))
		return
	}
	result, err := h.cloner.Clone(r.Context(), did, srcURI)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(result.Failed) > 0 {
		h.logger.Warn(r.Context(), "clone finished with failures",
			"stack", result.Stack.URI, "cloned", result.Cloned, "failed", len(result.Failed))
	}
	http.Redirect(w, r, "/stacks", http.StatusSeeOther)
}

func (h *Handler) cardInput(r *http.Request, stackURI string) services.CardInput {
	return services.CardInput{
		StackURI:  stackURI,
		FrontLang: r.FormValue("front_lang"),
		FrontText: r.FormValue("front_text"),
		BackLang:  r.FormValue("back_lang"),
		BackText:  r.FormValue("back_text"),
	}
}

func (h *Handler) createCard(w http.ResponseWriter, r *http.Request, did string) {
	rkey := r.PathValue("rkey")
	if _, err := h.cards.Create(r.Context(), did, h.cardInput(r, stackURI(did, rkey))); err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/stacks/"+rkey, http.StatusSeeOther)
}

func (h *Handler) editCardForm(w http.ResponseWriter, r *http.Request, did string) {
	rkey := r.PathValue("rkey")
	uri := stackURI(did, rkey)
	stack, err := h.stacks.GetOwned(r.Context(), did, uri)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cardList, err := h.cards.ListForStack(r.Context(), uri)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	target := cardURI(did, r.PathValue("crkey"))
	for _, c := range cardList {
		if c.URI != target {
			continue
		}
		sv := viewStack(stack)
		h.render(w, r, http.StatusOK, "card_form.html", struct {
			DID   string
			Error string
			Stack stackView
			Card  cardView
			Langs []lang.Choice
		}{DID: did, Stack: sv, Card: viewCard(c), Langs: h.langs.Choices()})
		return
	}
	h.fail(w, r, common.ErrNotFound)
}

func (h *Handler) updateCard(w http.ResponseWriter, r *http.Request, did string) {
	rkey := r.PathValue("rkey")
	uri := cardURI(did, r.PathValue("crkey"))
	if _, err := h.cards.Update(r.Context(), did, uri, h.cardInput(r, stackURI(did, rkey))); err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/stacks/"+rkey, http.StatusSeeOther)
}

func (h *Handler) deleteCard(w http.ResponseWriter, r *http.Request, did string) {
	rkey := r.PathValue("rkey")
	if err := h.cards.Delete(r.Context(), did, cardURI(did, r.PathValue("crkey"))); err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/stacks/"+rkey, http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	if err := h.pages.render(w, status, page, data); err != nil {
		h.logger.Error(r.Context(), "template render failed", "page", page, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// fail maps service errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	case errors.Is(err, common.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, common.ErrNotFound):
		http.NotFound(w, r)
	case errors.Is(err, common.ErrRemoteWrite):
		h.logger.Error(r.Context(), "remote write failed", "error", err)
		http.Error(w, "the data server rejected the write", http.StatusBadGateway)
	default:
		h.logger.Error(r.Context(), "request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

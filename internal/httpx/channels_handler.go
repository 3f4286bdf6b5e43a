package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-channel-sync/internal/auth"
	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/validate"
)

func (a *API) RegisterChannels(r chi.Router) {
	r.Get("/channels", a.listChannels)
	r.Post("/channels", a.connectChannel)
	r.Delete("/channels/{id}", a.deleteChannel)
	r.Get("/{marketplace}/oauth", a.beginOAuth)
	r.Get("/{marketplace}/oauth-callback", a.completeOAuth)
}

type connectChannelReq struct {
	Type        string          `json:"channel_type" validate:"required,oneof=amazon shopify walmart"`
	Name        string          `json:"channel_name" validate:"max=200"`
	Credentials json.RawMessage `json:"api_credentials" validate:"required"`
}

func (a *API) listChannels(w http.ResponseWriter, r *http.Request) {
	chs, err := a.Store.ListChannels(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(chs, toChannelView))
}

func (a *API) connectChannel(w http.ResponseWriter, r *http.Request) {
	var req connectChannelReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}
	ch, created, err := a.Sync.ConnectChannel(r.Context(), auth.UserID(r.Context()),
		catalog.ChannelType(req.Type), req.Name, req.Credentials)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, toChannelView(*ch))
}

func (a *API) deleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.DeleteChannel(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) beginOAuth(w http.ResponseWriter, r *http.Request) {
	mp := catalog.ChannelType(chi.URLParam(r, "marketplace"))
	authURL, err := a.Sync.BeginAuthorization(r.Context(), auth.UserID(r.Context()), mp, r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

type oauthResult struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	ChannelID string `json:"channel_id"`
	Created   bool   `json:"created"`
}

func (a *API) completeOAuth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		// consent denied or cancelled on the marketplace side
		msg := q.Get("error_description")
		if msg == "" {
			msg = e
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
		return
	}
	mp := catalog.ChannelType(chi.URLParam(r, "marketplace"))
	res, err := a.Sync.CompleteAuthorization(r.Context(), auth.UserID(r.Context()), mp, q.Get("code"), q.Get("state"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, oauthResult{OK: true, State: res.CallerState, ChannelID: res.Channel.ID, Created: res.Created})
}

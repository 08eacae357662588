package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/options"
)

const maxOptionBody = 64 << 10

type optionView struct {
	Key      string `json:"key"`
	Value    any    `json:"value"`
	Explicit any    `json:"explicit,omitempty"`
}

// optionScope resolves the option and scope addressed by r, checking that
// the folder or subscription belongs to the caller.
func (s *Server) optionScope(r *http.Request, scope options.Scope) (options.Option, options.ScopeKey, error) {
	key := chi.URLParam(r, "key")
	opt, ok := options.Lookup(key)
	if !ok {
		return nil, options.ScopeKey{}, fmt.Errorf("option %q: %w", key, model.ErrNotFound)
	}

	ctx, uid := r.Context(), userID(r)
	switch scope {
	case options.ScopeUser:
		return opt, options.UserKey(uid, key), nil
	case options.ScopeFolder:
		id, err := pathID(r, "id")
		if err != nil {
			return nil, options.ScopeKey{}, err
		}
		if _, err := s.Manager.GetFolder(ctx, uid, id); err != nil {
			return nil, options.ScopeKey{}, err
		}
		return opt, options.FolderKey(id, key), nil
	case options.ScopeSubscription:
		id, err := pathID(r, "id")
		if err != nil {
			return nil, options.ScopeKey{}, err
		}
		if _, err := s.Manager.Get(ctx, uid, id); err != nil {
			return nil, options.ScopeKey{}, err
		}
		return opt, options.SubscriptionKey(id, key), nil
	default:
		return opt, options.GlobalKey(key), nil
	}
}

func (s *Server) viewOption(r *http.Request, opt options.Option, scope options.ScopeKey) (*optionView, error) {
	ctx := r.Context()
	value, err := s.Resolver.Resolve(ctx, opt, scope)
	if err != nil {
		return nil, err
	}
	view := &optionView{Key: opt.OptionKey(), Value: value}
	if explicit, ok, err := s.Resolver.Explicit(ctx, opt, scope); err != nil {
		return nil, err
	} else if ok {
		view.Explicit = explicit
	}
	return view, nil
}

func (s *Server) handleListOptions(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	views := make([]*optionView, 0, len(options.All()))
	for _, opt := range options.All() {
		view, err := s.viewOption(r, opt, options.UserKey(uid, opt.OptionKey()))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetOption(scope options.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opt, key, err := s.optionScope(r, scope)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		view, err := s.viewOption(r, opt, key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleSetOption(scope options.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opt, key, err := s.optionScope(r, scope)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxOptionBody))
		if err != nil {
			s.writeError(w, r, errBadRequest("invalid request body"))
			return
		}
		if err := s.Resolver.SetJSON(r.Context(), opt, key, body); err != nil {
			s.writeError(w, r, err)
			return
		}
		view, err := s.viewOption(r, opt, key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleUnsetOption(scope options.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opt, key, err := s.optionScope(r, scope)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.Resolver.Unset(r.Context(), opt, key); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

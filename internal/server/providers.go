package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bryan-buckman/tubevore/internal/download"
	"github.com/bryan-buckman/tubevore/internal/opml"
	"github.com/bryan-buckman/tubevore/internal/provider"
)

type providerView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Initialized   bool   `json:"initialized"`
	Subscriptions bool   `json:"subscriptions"`
	Videos        bool   `json:"videos"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	all := s.Registry.All()
	views := make([]providerView, 0, len(all))
	for _, p := range all {
		_, subs := p.(provider.SubscriptionProvider)
		_, videos := p.(provider.VideoProvider)
		views = append(views, providerView{
			ID:            p.ID(),
			Name:          p.Name(),
			Initialized:   p.IsInitialized(),
			Subscriptions: subs,
			Videos:        videos,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleConfigureProvider(w http.ResponseWriter, r *http.Request) {
	var cfg map[string]string
	if err := decode(r, &cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Registry.Configure(r.Context(), chi.URLParam(r, "id"), provider.Config(cfg)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUnconfigureProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.Registry.Unconfigure(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePendingDownloads(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reqs, err := s.Queue.Pending(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []download.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleAckDownload(w http.ResponseWriter, r *http.Request) {
	kind := download.Kind(chi.URLParam(r, "kind"))
	if kind != download.KindDownload && kind != download.KindDelete {
		s.writeError(w, r, errBadRequest("invalid kind"))
		return
	}
	videoID, err := pathID(r, "videoID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Queue.Ack(r.Context(), kind, videoID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		s.writeError(w, r, errBadRequest("no file provided"))
		return
	}
	defer file.Close()

	res, err := opml.Import(r.Context(), s.Manager, userID(r), file, s.Logger)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=tubevore-subscriptions.opml")
	if err := opml.Export(r.Context(), s.Manager, userID(r), "tubevore subscriptions", w); err != nil {
		s.Logger.Error("opml export failed", "err", err)
	}
}

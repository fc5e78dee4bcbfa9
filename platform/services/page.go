package services

import (
	"errors"
	"log/slog"
	"net/http"

	"sovrium/platform/pages"
	"sovrium/utils"

	"github.com/go-chi/chi/v5"
)

type PageService struct {
	config *pages.Config
}

func (s *PageService) Routes() chi.Router {
	r := chi.NewRouter()

	// Pages are public: auth happens inside the apps they bootstrap.
	r.Get("/*", s.Render)

	return r
}

func (s *PageService) Render(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")

	page, err := s.config.Page(path)
	if err != nil {
		if errors.Is(err, pages.ErrPageNotFound) {
			utils.WriteJsonError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.WriteJsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(w); err != nil {
		slog.Error("error rendering page", "path", path, "error", err)
	}
}

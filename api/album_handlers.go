package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/catalog"
	"github.com/dselans/fivehundred/validate"
)

func (a *API) albumsHandler(rw http.ResponseWriter, r *http.Request) {
	logger := a.log.With(zap.String("method", "albumsHandler"))
	logger.Debug("handling /api/albums request", zap.String("remoteAddr", r.RemoteAddr))

	query := r.URL.Query()

	filters := &catalog.AlbumFilters{
		IncludedGenres:   query["includedGenres"],
		ExcludedGenres:   query["excludedGenres"],
		ExcludedKeywords: query["excludedKeywords"],
	}

	if v := query.Get("aplus"); v != "" {
		aplus, err := strconv.ParseBool(v)
		if err != nil {
			a.writeError(rw, http.StatusBadRequest, "Invalid aplus parameter")
			return
		}

		filters.APlus = &aplus
	}

	if v := query.Get("ranked"); v != "" {
		ranked, err := strconv.ParseBool(v)
		if err != nil {
			a.writeError(rw, http.StatusBadRequest, "Invalid ranked parameter")
			return
		}

		filters.Ranked = ranked
	}

	for name, target := range map[string]*int{"limit": &filters.Limit, "offset": &filters.Offset} {
		if v := query.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				a.writeError(rw, http.StatusBadRequest, "Invalid "+name+" parameter")
				return
			}

			*target = n
		}
	}

	if err := validate.AlbumFilters(filters); err != nil {
		a.writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	albums, err := a.deps.CatalogService.GetAlbums(r.Context(), filters)
	if err != nil {
		logger.Error("Failed to fetch albums", zap.Error(err))
		a.writeError(rw, http.StatusInternalServerError, "Failed to fetch albums")
		return
	}

	a.writeOK(rw, logger, albums)
}

func (a *API) albumHandler(rw http.ResponseWriter, r *http.Request) {
	logger := a.log.With(zap.String("method", "albumHandler"))

	slug := httprouter.ParamsFromContext(r.Context()).ByName("slug")

	if err := validate.Slug(slug); err != nil {
		a.writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	album, err := a.deps.CatalogService.GetAlbum(r.Context(), slug)
	if err != nil {
		if errors.Is(err, catalog.ErrAlbumNotFound) {
			a.writeError(rw, http.StatusNotFound, "Album not found")
			return
		}

		logger.Error("Failed to fetch album", zap.String("slug", slug), zap.Error(err))
		a.writeError(rw, http.StatusInternalServerError, "Failed to fetch album")

		return
	}

	a.writeOK(rw, logger, album)
}

func (a *API) entitiesHandler(kind db.Kind) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		logger := a.log.With(zap.String("method", "entitiesHandler"), zap.String("kind", string(kind)))

		entities, err := a.deps.CatalogService.GetEntities(r.Context(), kind)
		if err != nil {
			logger.Error("Failed to fetch entities", zap.Error(err))
			a.writeError(rw, http.StatusInternalServerError, "Failed to fetch "+string(kind)+"s")
			return
		}

		a.writeOK(rw, logger, entities)
	}
}

func (a *API) writeOK(rw http.ResponseWriter, logger clog.ICustomLog, payload interface{}) {
	rw.Header().Set("Content-Type", "application/json; charset=UTF-8")
	rw.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(rw).Encode(payload); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

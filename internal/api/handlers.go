package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jensholdgaard/bazaar/internal/event"
	"github.com/jensholdgaard/bazaar/internal/market"
	"github.com/jensholdgaard/bazaar/internal/media"
)

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// withID parses the {id} route variable before calling h.
func withID(w http.ResponseWriter, r *http.Request, h func(id int64)) {
	id, ok := parseID(r)
	if !ok {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	h(id)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) listListings(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	listings, err := s.market.ListListings(r.Context(), market.ListQuery{
		Category: r.URL.Query().Get("category"),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toListings(listings))
}

func (s *Server) createListing(w http.ResponseWriter, r *http.Request) {
	var req listingRequest
	if !s.decode(w, r, &req) {
		return
	}
	l, err := s.market.CreateListing(r.Context(), principal(r.Context()), req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/listings/"+strconv.FormatInt(l.ID, 10))
	respondJSON(w, http.StatusCreated, toListing(l))
}

func (s *Server) getListing(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id int64) {
		d, err := s.market.GetListing(r.Context(), principal(r.Context()), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, toDetail(d))
	})
}

func (s *Server) updateListing(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id int64) {
		var req listingRequest
		if !s.decode(w, r, &req) {
			return
		}
		l, err := s.market.UpdateListing(r.Context(), principal(r.Context()), id, req.input())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, toListing(l))
	})
}

func (s *Server) deleteListing(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id int64) {
		if err := s.market.DeleteListing(r.Context(), principal(r.Context()), id); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// uploadImage accepts a multipart form with the picture in the "image" field.
func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id int64) {
		// Leave room for the multipart envelope around the file.
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+64<<10)
		if err := r.ParseMultipartForm(s.maxUpload); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				s.fail(w, r, media.ErrTooLarge)
				return
			}
			respondError(w, http.StatusBadRequest, "expected a multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, _, err := r.FormFile("image")
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorBody{
				Error:  "invalid request",
				Fields: map[string]string{"image": "is required"},
			})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if int64(len(data)) > s.maxUpload {
			s.fail(w, r, media.ErrTooLarge)
			return
		}

		l, err := s.market.SetImage(r.Context(), principal(r.Context()), id, data)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, toListing(l))
	})
}

func (s *Server) placeBid(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id int64) {
		var req bidRequest
		if !s.decode(w, r, &req) {
			return
		}
		b, err := s.market.PlaceBid(r.Context(), principal(r.Context()), id, req.Amount)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, toBid(b))
	})
}

func (s *Server) buyNow(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id int64) {
		o, err := s.market.BuyNow(r.Context(), principal(r.Context()), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, toOrder(o))
	})
}

func (s *Server) toggleWatch(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id int64) {
		watching, err := s.market.ToggleWatch(r.Context(), principal(r.Context()), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"watching": watching})
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id int64) {
		st, err := s.market.Status(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, st)
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id int64) {
		events, err := s.market.History(r.Context(), principal(r.Context()), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, events)
	})
}

// eventsByType serves the cross-listing event feed, e.g. ?type=auction.closed.
func (s *Server) eventsByType(w http.ResponseWriter, r *http.Request) {
	t := r.URL.Query().Get("type")
	if t == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{
			Error:  "invalid request",
			Fields: map[string]string{"type": "is required"},
		})
		return
	}
	events, err := s.market.EventsByType(r.Context(), principal(r.Context()), event.Type(t))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toListingEvents(events))
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.market.Dashboard(r.Context(), principal(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDashboard(d))
}

func (s *Server) watchlist(w http.ResponseWriter, r *http.Request) {
	listings, err := s.market.Watchlist(r.Context(), principal(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toListings(listings))
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.market.Categories(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]categoryResponse, 0, len(cats))
	for i := range cats {
		out = append(out, toCategory(&cats[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.market.CreateCategory(r.Context(), principal(r.Context()), req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCategory(c))
}

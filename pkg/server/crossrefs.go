package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/crosstrails/crosstrails/pkg/xref"
)

var errNoCrossRefs = errors.New("cross-reference data is not configured")

// parseLookup reads verse or verses, limit and min_strength from the query.
func parseLookup(r *http.Request) (xref.LookupRequest, error) {
	q := r.URL.Query()
	req := xref.LookupRequest{Limit: xref.DefaultLimit, MinStrength: xref.DefaultMinStrength}

	if vs := q.Get("verses"); vs != "" {
		req.Verses = strings.Split(vs, ",")
	} else if v := q.Get("verse"); v != "" {
		req.Verses = []string{v}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return req, invalid("limit must be a positive integer", map[string]any{"limit": v})
		}
		req.Limit = n
	}
	if v := q.Get("min_strength"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return req, invalid("min_strength must be between 0 and 1", map[string]any{"min_strength": v})
		}
		req.MinStrength = f
	}
	return req, nil
}

func (s *Server) handleCrossRefs(w http.ResponseWriter, r *http.Request) {
	if s.crossRefs == nil {
		s.fail(w, r, errNoCrossRefs)
		return
	}
	req, err := parseLookup(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.crossRefs.Lookup(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success{Success: true, Data: res})
}

package api

import (
	"net/http"
	"strconv"

	"github.com/good-yellow-bee/vigil/internal/models"
)

func wantsRefresh(r *http.Request) bool {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return refresh
}

// getHealth returns the cached health result, probing again when it is stale
// or when ?refresh=true is given.
func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	if wantsRefresh(r) {
		OK(w, s.deps.Health.Refresh(r.Context()))
		return
	}
	OK(w, s.deps.Health.Current(r.Context(), s.config.HealthMaxAge))
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	since, err := parseTime(r, "since")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	until, err := parseTime(r, "until")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		s.fail(w, r, NewBadRequest("until must not be before since"))
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	snaps, err := s.deps.Snapshots.List(ctx, models.SnapshotFilter{
		Service: r.URL.Query().Get("service"),
		Since:   since,
		Until:   until,
		Limit:   limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, ListResponse{Items: nonNil(snaps), Count: len(snaps)})
}

func (s *Server) recentSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 10)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	snaps, err := s.deps.Snapshots.Recent(ctx, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK(w, ListResponse{Items: nonNil(snaps), Count: len(snaps)})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

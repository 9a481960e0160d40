package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"momentum/internal/core"
)

const maxBodyBytes = 1 << 20

var (
	errMissingAccount = errors.New("missing or invalid X-Account-ID header")
	errBadID          = errors.New("invalid id in path")
	errBadBody        = errors.New("malformed request body")
	errNoAmount       = errors.New("amount is required")
)

// ownerFromRequest resolves the acting account. Authentication is
// terminated upstream; the gateway forwards the account id in a header.
func ownerFromRequest(r *http.Request) (int64, error) {
	v := strings.TrimSpace(r.Header.Get("X-Account-ID"))
	if v == "" {
		return 0, errMissingAccount
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, errMissingAccount
	}
	return id, nil
}

// idFromPath extracts the numeric id trailing the given route prefix.
func idFromPath(path, prefix string) (int64, error) {
	raw := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if raw == "" || strings.Contains(raw, "/") {
		return 0, errBadID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadID
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}

// monthParams holds the year+month a summary endpoint operates on.
type monthParams struct {
	Year  int
	Month int
}

// parseMonthParams reads year and month from the query string, falling
// back to the current period for whichever is absent.
func parseMonthParams(query url.Values) (monthParams, error) {
	now := time.Now()
	params := monthParams{
		Year:  now.Year(),
		Month: int(now.Month()),
	}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			return monthParams{}, core.ErrInvalidPeriod
		}
		params.Year = y
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return monthParams{}, core.ErrInvalidPeriod
		}
		params.Month = m
	}
	if params.Month < 1 || params.Month > 12 || params.Year < 1970 {
		return monthParams{}, core.ErrInvalidPeriod
	}
	return params, nil
}

// resolveAmount accepts either an exact cent count or a human decimal
// string ("12.50" or "12,50").
func resolveAmount(cents *int64, decimal string) (core.Money, error) {
	if cents != nil {
		return core.Money{Cents: *cents}, nil
	}
	if strings.TrimSpace(decimal) != "" {
		c, err := core.ParseDecimalToCents(decimal)
		if err != nil {
			return core.Money{}, err
		}
		return core.Money{Cents: c}, nil
	}
	return core.Money{}, errNoAmount
}

package driver

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"eventsync/internal/mapper"
	"eventsync/internal/syncerr"
)

// Resource describes one listing endpoint of the Source API
type Resource struct {
	Name         string
	PathTemplate string // "{id}" is replaced by the resource id
	ItemsKey     string
	Map          mapper.Func
}

// Path returns the listing path for id
func (r Resource) Path(id string) string {
	return strings.ReplaceAll(r.PathTemplate, "{id}", url.PathEscape(id))
}

var (
	// Attendees lists the registrations of one event
	Attendees = Resource{
		Name:         "attendees",
		PathTemplate: "/events/{id}/attendees/",
		ItemsKey:     "attendees",
		Map:          mapper.MapRegistration,
	}

	// Events lists the events of one organization
	Events = Resource{
		Name:         "events",
		PathTemplate: "/organizations/{id}/events/",
		ItemsKey:     "events",
		Map:          mapper.MapEvent,
	}
)

// Resources maps resource names to their descriptors
var Resources = map[string]Resource{
	Attendees.Name: Attendees,
	Events.Name:    Events,
}

// Lookup returns the descriptor registered under name
func Lookup(name string) (Resource, error) {
	res, ok := Resources[name]
	if !ok {
		names := make([]string, 0, len(Resources))
		for n := range Resources {
			names = append(names, n)
		}
		sort.Strings(names)
		return Resource{}, syncerr.New(syncerr.KindInvalidArgument,
			"unknown resource %q (expected one of %s)", name, strings.Join(names, ", "))
	}
	return res, nil
}

var (
	allDigits      = regexp.MustCompile(`^\d+$`)
	eidParam       = regexp.MustCompile(`[?&#]eid=(\d+)`)
	leadingDigits  = regexp.MustCompile(`^(\d+)`)
	trailingDigits = regexp.MustCompile(`(\d+)\D*$`)
)

// ExtractID normalizes a resource identifier that may be a bare id or a URL.
// Patterns are tried in order: all digits, an eid= query parameter, a leading
// digit run, the last digit run of a URL path, and for input without a host
// the last digit run anywhere.
func ExtractID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", syncerr.New(syncerr.KindInvalidArgument, "resource id is empty")
	}
	if allDigits.MatchString(id) {
		return id, nil
	}
	if m := eidParam.FindStringSubmatch(id); m != nil {
		return m[1], nil
	}
	if m := leadingDigits.FindStringSubmatch(id); m != nil {
		return m[1], nil
	}
	if u, err := url.Parse(id); err == nil && u.Host != "" {
		// Digits in the host name are never an id
		if m := trailingDigits.FindStringSubmatch(u.Path); m != nil {
			return m[1], nil
		}
		return "", syncerr.New(syncerr.KindInvalidArgument, "no numeric id found in %q", raw)
	}
	if m := trailingDigits.FindStringSubmatch(id); m != nil {
		return m[1], nil
	}
	return "", syncerr.New(syncerr.KindInvalidArgument, "no numeric id found in %q", raw)
}

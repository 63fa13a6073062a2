package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Query kinds understood by the built-in resolvers.
const (
	KindCategory = "category"
	KindChannel  = "channel"
	KindVideos   = "videos"
)

// primaryParam is the parameter a "kind:value" shorthand fills in.
var primaryParam = map[string]string{
	KindCategory: "categoryId",
	KindChannel:  "channelId",
	KindVideos:   "ids",
}

// Query describes one configured catalog search.
type Query struct {
	Name     string
	Kind     string
	Params   map[string]string
	MaxItems int
}

// Label identifies the query inside raw records and logs.
func (q Query) Label() string {
	if q.Name != "" {
		return q.Name
	}
	if key, ok := primaryParam[q.Kind]; ok {
		return q.Kind + ":" + q.Params[key]
	}
	return q.Kind
}

// Param returns a parameter or def when unset.
func (q Query) Param(key, def string) string {
	if v := strings.TrimSpace(q.Params[key]); v != "" {
		return v
	}
	return def
}

// Parse reads the "kind:value" shorthand used on the command line,
// e.g. "category:28", "channel:UC_x5XG1OV2P6uZZ5FSM9Ttw" or "videos:id1,id2".
func Parse(s string) (Query, error) {
	kind, value, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || value == "" {
		return Query{}, fmt.Errorf("query %q: expected kind:value", s)
	}
	key, known := primaryParam[kind]
	if !known {
		return Query{}, fmt.Errorf("query %q: unknown kind %s", s, kind)
	}
	return Query{Kind: kind, Params: map[string]string{key: value}}, nil
}

// Resolver turns a query into an ordered list of video ids.
type Resolver interface {
	Kind() string
	Resolve(ctx context.Context, q Query) ([]string, error)
}

// Registry keeps a mapping from query kinds to their resolvers.
type Registry struct {
	resolvers map[string]Resolver
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: map[string]Resolver{}}
}

// Register adds or replaces a resolver.
func (r *Registry) Register(res Resolver) {
	if r.resolvers == nil {
		r.resolvers = map[string]Resolver{}
	}
	r.resolvers[res.Kind()] = res
}

// Resolve returns the resolver for kind or an error if it is absent.
func (r *Registry) Resolve(kind string) (Resolver, error) {
	if res, ok := r.resolvers[kind]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("query kind %s is not registered (known: %s)", kind, strings.Join(r.Kinds(), ", "))
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.resolvers))
	for k := range r.resolvers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Collect appends ids to dst, skipping blanks and duplicates, until dst holds limit ids
// (limit <= 0 means no cap). It reports whether the cap has been reached.
func Collect(dst []string, seen map[string]struct{}, ids []string, limit int) ([]string, bool) {
	for _, id := range ids {
		if limit > 0 && len(dst) >= limit {
			return dst, true
		}
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, id)
	}
	return dst, limit > 0 && len(dst) >= limit
}

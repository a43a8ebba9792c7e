package card

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// PublicBaseURL is where share links point when the local base cannot be
// opened by the recipient.
const PublicBaseURL = "https://music-card-frontend.vercel.app/"

// Link query parameters.
const (
	ParamData = "data"
	ParamID   = "id"
)

// Fetcher looks a card up by its server-issued identifier. Implementations
// return an error wrapping ErrNotFound for unknown identifiers.
type Fetcher interface {
	FetchCard(ctx context.Context, id string) (Card, error)
}

// Origin says which path produced a resolved card.
type Origin string

const (
	OriginToken Origin = "token"
	OriginID    Origin = "id"
)

// Resolved is the outcome of resolving a link.
type Resolved struct {
	Card   Card
	Origin Origin
	// ID is set when the card came from the store.
	ID string
}

// Resolver turns link parameters into a Card through a single entry point.
type Resolver struct {
	Fetcher Fetcher
}

// NewResolver creates a resolver backed by f.
func NewResolver(f Fetcher) *Resolver {
	return &Resolver{Fetcher: f}
}

// Resolve reconstructs the card referenced by q. An inline token wins over an
// identifier when both are present.
func (r *Resolver) Resolve(ctx context.Context, q url.Values) (Resolved, error) {
	if token := q.Get(ParamData); token != "" {
		c, err := Decode(token)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Card: c, Origin: OriginToken}, nil
	}
	if id := q.Get(ParamID); id != "" {
		c, err := r.ResolveByID(ctx, id)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Card: c, Origin: OriginID, ID: id}, nil
	}
	return Resolved{}, ErrNoReference
}

// ResolveLink parses a share link and resolves its query.
func (r *Resolver) ResolveLink(ctx context.Context, link string) (Resolved, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Resolved{}, fmt.Errorf("parse link: %w", err)
	}
	return r.Resolve(ctx, u.Query())
}

// ResolveByID fetches a card from the store.
func (r *Resolver) ResolveByID(ctx context.Context, id string) (Card, error) {
	if r.Fetcher == nil {
		return Card{}, fmt.Errorf("%w: %s (no card store)", ErrNotFound, id)
	}
	c, err := r.Fetcher.FetchCard(ctx, id)
	if err != nil {
		return Card{}, fmt.Errorf("resolve card %s: %w", id, err)
	}
	return c, nil
}

// ShareLink builds a link embedding c as an inline token.
func ShareLink(base string, c Card) (string, error) {
	token, err := Encode(c)
	if err != nil {
		return "", err
	}
	return withParam(base, ParamData, token), nil
}

// ShareLinkByID builds a link referencing a stored card.
func ShareLinkByID(base, id string) string {
	return withParam(base, ParamID, id)
}

// ShareBase strips query and fragment from base and replaces bases the
// recipient cannot reach (file URLs, localhost) with PublicBaseURL.
func ShareBase(base string) string {
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if base == "" || strings.HasPrefix(base, "file://") || strings.Contains(base, "localhost") {
		return PublicBaseURL
	}
	return base
}

func withParam(base, key, value string) string {
	return ShareBase(base) + "?" + url.Values{key: {value}}.Encode()
}

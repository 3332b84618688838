package domain

import (
	"strings"

	dErrors "shelfcheck/pkg/domain-errors"
)

// CollectionID identifies a curated list by owner and list slug. Both segments
// are lowercased so "Alice/Noir" and "alice/noir" address the same resolver.
type CollectionID struct {
	Owner string
	List  string
}

// NewCollectionID validates and normalizes the two segments.
func NewCollectionID(owner, list string) (CollectionID, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	list = strings.ToLower(strings.TrimSpace(list))
	if owner == "" || list == "" {
		return CollectionID{}, dErrors.New(dErrors.CodeInvalidInput, "owner and list are required")
	}
	if strings.ContainsAny(owner, "/?#") || strings.ContainsAny(list, "/?#") {
		return CollectionID{}, dErrors.New(dErrors.CodeInvalidInput, "owner and list must be single path segments")
	}
	return CollectionID{Owner: owner, List: list}, nil
}

// ParseCollectionID parses "owner/list".
func ParseCollectionID(s string) (CollectionID, error) {
	owner, list, ok := strings.Cut(strings.Trim(strings.TrimSpace(s), "/"), "/")
	if !ok {
		return CollectionID{}, dErrors.New(dErrors.CodeInvalidInput, "collection id must be owner/list")
	}
	return NewCollectionID(owner, list)
}

func (id CollectionID) String() string {
	return id.Owner + "/" + id.List
}

func (id CollectionID) IsZero() bool {
	return id.Owner == "" && id.List == ""
}

// LookupKey identifies one title in one catalog. Equality is case-insensitive
// through String, which is the only form used for storage and routing.
type LookupKey struct {
	Catalog string
	Title   string
}

func NewLookupKey(catalog, title string) LookupKey {
	return LookupKey{Catalog: strings.TrimSpace(catalog), Title: strings.TrimSpace(title)}
}

func (k LookupKey) String() string {
	return strings.ToLower(k.Catalog) + "/" + NormalizeTitle(k.Title)
}

// NormalizeTitle is the comparison form of an item title.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

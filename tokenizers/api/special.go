package api

import (
	"slices"

	"github.com/pkg/errors"
)

// SpecialTokenRegistry keeps the special tokens of a tokenizer: the tokens with a role (end-of-sequence,
// padding, ...) and the additional special tokens that have none.
//
// It is populated once, while the tokenizer is built, and it is read-only afterwards, so it is safe for
// concurrent use.
type SpecialTokenRegistry struct {
	roleTokens map[SpecialToken]string
	roleIDs    map[SpecialToken]int

	additional []string

	// tokenIDs holds every special token, with or without a role.
	tokenIDs map[string]int
	idSet    map[int]struct{}
}

// NewSpecialTokenRegistry creates an empty registry.
func NewSpecialTokenRegistry() *SpecialTokenRegistry {
	return &SpecialTokenRegistry{
		roleTokens: make(map[SpecialToken]string),
		roleIDs:    make(map[SpecialToken]int),
		tokenIDs:   make(map[string]int),
		idSet:      make(map[int]struct{}),
	}
}

// SetRole registers token with the given id for the role.
func (r *SpecialTokenRegistry) SetRole(role SpecialToken, token string, id int) {
	r.roleTokens[role] = token
	r.roleIDs[role] = id
	r.tokenIDs[token] = id
	r.idSet[id] = struct{}{}
}

// AddAdditional registers a special token without a role. Repeated tokens are ignored.
func (r *SpecialTokenRegistry) AddAdditional(token string, id int) {
	if slices.Contains(r.additional, token) {
		return
	}
	r.additional = append(r.additional, token)
	r.tokenIDs[token] = id
	r.idSet[id] = struct{}{}
}

// Token returns the token string registered for role.
func (r *SpecialTokenRegistry) Token(role SpecialToken) (string, bool) {
	token, found := r.roleTokens[role]
	return token, found
}

// ID returns the id registered for role, or an error if the role has no token.
func (r *SpecialTokenRegistry) ID(role SpecialToken) (int, error) {
	id, found := r.roleIDs[role]
	if !found {
		return 0, errors.Errorf("special token %s not registered", role)
	}
	return id, nil
}

// TokenID returns the id of a registered special token.
func (r *SpecialTokenRegistry) TokenID(token string) (int, bool) {
	id, found := r.tokenIDs[token]
	return id, found
}

// IsSpecial returns whether token is one of the registered special tokens (exact match).
func (r *SpecialTokenRegistry) IsSpecial(token string) bool {
	_, found := r.tokenIDs[token]
	return found
}

// IsSpecialID returns whether id belongs to one of the registered special tokens.
func (r *SpecialTokenRegistry) IsSpecialID(id int) bool {
	_, found := r.idSet[id]
	return found
}

// AdditionalTokens returns the special tokens registered without a role, in registration order.
func (r *SpecialTokenRegistry) AdditionalTokens() []string {
	return slices.Clone(r.additional)
}

// AllTokens returns all special tokens: first the role tokens (in SpecialToken order), then the
// additional ones. Duplicates are listed once.
func (r *SpecialTokenRegistry) AllTokens() []string {
	all := make([]string, 0, len(r.tokenIDs))
	for _, role := range SpecialTokenValues() {
		if token, found := r.roleTokens[role]; found && !slices.Contains(all, token) {
			all = append(all, token)
		}
	}
	for _, token := range r.additional {
		if !slices.Contains(all, token) {
			all = append(all, token)
		}
	}
	return all
}

// AllIDs returns the ids of AllTokens, in the same order.
func (r *SpecialTokenRegistry) AllIDs() []int {
	tokens := r.AllTokens()
	ids := make([]int, len(tokens))
	for i, token := range tokens {
		ids[i] = r.tokenIDs[token]
	}
	return ids
}

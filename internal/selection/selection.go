// Package selection derives the selected prefecture ids from URL query state
// and rewrites that state when a checkbox is toggled.
package selection

import (
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

// DefaultParam is the query parameter holding the comma-separated selection.
const DefaultParam = "prefCode"

// Store is the key-value state the selection lives in. Implementations are
// expected to be the URL query string or something equivalent.
type Store interface {
	Get(key string) string
	Set(key, value string)
	Del(key string)
}

// QueryStore adapts url.Values to Store.
type QueryStore url.Values

// Get returns the first value for key.
func (q QueryStore) Get(key string) string { return url.Values(q).Get(key) }

// Set replaces the values for key.
func (q QueryStore) Set(key, value string) { url.Values(q).Set(key, value) }

// Del removes key.
func (q QueryStore) Del(key string) { url.Values(q).Del(key) }

// Encode renders the store as a query string.
func (q QueryStore) Encode() string { return url.Values(q).Encode() }

// Manager reads and toggles the selection stored under Param.
type Manager struct {
	Param string
}

// NewManager returns a Manager for param, falling back to DefaultParam.
func NewManager(param string) Manager {
	param = strings.TrimSpace(param)
	if param == "" {
		param = DefaultParam
	}
	return Manager{Param: param}
}

func (m Manager) param() string {
	if m.Param == "" {
		return DefaultParam
	}
	return m.Param
}

// Selected parses the stored selection. Tokens without a leading base-10
// integer are dropped; the result is never an error. Order and duplicates are kept.
func (m Manager) Selected(store Store) []int {
	return Parse(store.Get(m.param()))
}

// Toggle adds id when checked or removes every occurrence of it otherwise, then
// writes the selection back. An empty selection deletes the parameter.
// Adding does not guard against duplicates.
func (m Manager) Toggle(store Store, id int, checked bool) []int {
	current := m.Selected(store)
	var next []int
	if checked {
		next = append(current, id)
	} else {
		next = make([]int, 0, len(current))
		for _, existing := range current {
			if existing != id {
				next = append(next, existing)
			}
		}
	}

	if len(next) == 0 {
		store.Del(m.param())
		return []int{}
	}
	store.Set(m.param(), Format(next))
	return next
}

// Contains reports whether id is selected.
func (m Manager) Contains(store Store, id int) bool {
	for _, selected := range m.Selected(store) {
		if selected == id {
			return true
		}
	}
	return false
}

// Parse splits raw on commas and keeps the tokens that start with an integer.
// As with browser parseInt, "12abc" yields 12 and "1.5" yields 1.
func Parse(raw string) []int {
	if raw == "" {
		return []int{}
	}
	tokens := strings.Split(raw, ",")
	ids := make([]int, 0, len(tokens))
	for _, token := range tokens {
		id, ok := leadingInt(token)
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func leadingInt(token string) (int, bool) {
	token = strings.TrimLeftFunc(token, unicode.IsSpace)
	end := 0
	if end < len(token) && (token[end] == '+' || token[end] == '-') {
		end++
	}
	digits := end
	for end < len(token) && token[end] >= '0' && token[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	id, err := strconv.Atoi(token[:end])
	if err != nil {
		return 0, false
	}
	return id, true
}

// Format joins ids with commas.
func Format(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

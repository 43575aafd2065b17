// Package alias folds the many spellings of one mailbox into a canonical
// sender identity.
package alias

import (
	"net/mail"
	"sort"
	"strings"
)

// DefaultDotInsensitiveDomains ignore dots in the local part.
var DefaultDotInsensitiveDomains = []string{"gmail.com", "googlemail.com"}

// Table is the immutable alias configuration. Build it once at startup and
// share it between goroutines.
type Table struct {
	domains        map[string]string
	dotInsensitive map[string]struct{}
}

// NewTable copies its arguments; later changes to them are not observed.
func NewTable(domainAliases map[string]string, dotInsensitive []string) *Table {
	t := &Table{
		domains:        make(map[string]string, len(domainAliases)),
		dotInsensitive: make(map[string]struct{}, len(dotInsensitive)),
	}
	for from, to := range domainAliases {
		from = normalizeDomain(from)
		to = normalizeDomain(to)
		if from != "" && to != "" {
			t.domains[from] = to
		}
	}
	for _, d := range dotInsensitive {
		if d = normalizeDomain(d); d != "" {
			t.dotInsensitive[d] = struct{}{}
		}
	}
	return t
}

// DefaultTable has no domain aliases and the default dot-insensitive domains.
func DefaultTable() *Table {
	return NewTable(nil, DefaultDotInsensitiveDomains)
}

// WithDotInsensitive returns a new table that also treats domains as dot-insensitive.
func (t *Table) WithDotInsensitive(domains ...string) *Table {
	return NewTable(t.domains, append(t.DotInsensitiveDomains(), domains...))
}

// DotInsensitiveDomains lists the configured domains in sorted order.
func (t *Table) DotInsensitiveDomains() []string {
	out := make([]string, 0, len(t.dotInsensitive))
	for d := range t.dotInsensitive {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// DomainAliases returns a copy of the domain mapping.
func (t *Table) DomainAliases() map[string]string {
	out := make(map[string]string, len(t.domains))
	for k, v := range t.domains {
		out[k] = v
	}
	return out
}

// Resolver maps raw sender strings to canonical addresses.
type Resolver struct {
	table *Table
}

// New creates a Resolver. A nil table behaves like DefaultTable.
func New(table *Table) *Resolver {
	if table == nil {
		table = DefaultTable()
	}
	return &Resolver{table: table}
}

// Resolve never fails. Input that is not an address comes back lower-cased
// and trimmed.
func (r *Resolver) Resolve(raw string) string {
	trimmed := strings.TrimSpace(raw)

	addr := trimmed
	if parsed, err := mail.ParseAddress(trimmed); err == nil {
		addr = parsed.Address
	}
	addr = strings.ToLower(strings.TrimSpace(addr))

	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return strings.ToLower(trimmed)
	}
	local, domain := addr[:at], normalizeDomain(addr[at+1:])

	if i := strings.IndexByte(local, '+'); i > 0 {
		local = local[:i]
	}
	if to, ok := r.table.domains[domain]; ok {
		domain = to
	}
	if _, ok := r.table.dotInsensitive[domain]; ok {
		if stripped := strings.ReplaceAll(local, ".", ""); stripped != "" {
			local = stripped
		}
	}
	return local + "@" + domain
}

func normalizeDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}

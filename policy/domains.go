package policy

import "strings"

// domainMatches implements the matching semantics shared by blocklist
// domains, whitelist domains, and category domain sets (§4.2): a query
// name matches an entry if equal (case-insensitive), a strict subdomain
// of the entry (".entry" suffix), or — when the entry itself is a
// wildcard "*.suffix" — the query equals that suffix or ends with ".suffix".
func domainMatches(name, entry string) bool {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	entry = strings.ToLower(strings.TrimSuffix(entry, "."))

	if strings.HasPrefix(entry, "*.") {
		suffix := entry[2:]
		return name == suffix || strings.HasSuffix(name, "."+suffix)
	}
	if name == entry {
		return true
	}
	return strings.HasSuffix(name, "."+entry)
}

// anyDomainMatches reports whether name matches any entry in entries.
func anyDomainMatches(name string, entries []string) (string, bool) {
	for _, e := range entries {
		if domainMatches(name, e) {
			return e, true
		}
	}
	return "", false
}

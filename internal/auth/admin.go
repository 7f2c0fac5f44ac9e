package auth

import "strings"

// AdminList is the set of emails allowed to see every owner's visits.
// Matching is exact after trimming and lower-casing.
type AdminList struct {
	emails map[string]struct{}
}

// NewAdminList builds a list from raw entries. Blank entries are ignored.
func NewAdminList(emails []string) AdminList {
	l := AdminList{emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			l.emails[e] = struct{}{}
		}
	}
	return l
}

// Eligible reports whether email is on the list.
func (l AdminList) Eligible(email string) bool {
	email = normalizeEmail(email)
	if email == "" {
		return false
	}
	_, ok := l.emails[email]
	return ok
}

// Len returns the number of entries.
func (l AdminList) Len() int { return len(l.emails) }

// String lists the entries, comma separated.
func (l AdminList) String() string {
	out := make([]string, 0, len(l.emails))
	for e := range l.emails {
		out = append(out, e)
	}
	return strings.Join(out, ",")
}

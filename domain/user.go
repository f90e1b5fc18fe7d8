package domain

// UserRow is one candidate recipient of an event, as computed by the
// message-path collaborator. Flags carry per-user annotations such as
// "mentioned" or "wildcard_mentioned" that travel with the user's copy
// of a message event.
type UserRow struct {
	UserID int64    `json:"id"`
	Flags  []string `json:"flags,omitempty"`
}

const (
	FlagMentioned         = "mentioned"
	FlagWildcardMentioned = "wildcard_mentioned"
	FlagRead              = "read"
)

func (r UserRow) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

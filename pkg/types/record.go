package types

// marker stored under the session key while a session is active
const ActiveMarker = "active"

// well-known keys the ownership record lives under
type Keys struct {
	Session string //activity flag
	Owner   string //owner identity token
}

func DefaultKeys() Keys {
	return Keys{
		Session: "app_session",
		Owner:   "app_session_tab",
	}
}

// ownership record as read back from the store
// both halves are stored independently so either may be missing
type Record struct {
	Active Value
	Owner  Value
}

// a record is valid only when the flag is set to the marker and an owner is named
// anything else is malformed and counts as no record at all
func (r Record) Valid() bool {
	return r.Active.Set && r.Active.Data == ActiveMarker && r.Owner.Set && r.Owner.Data != ""
}

// owner token of a valid record, "" otherwise
func (r Record) OwnerID() string {
	if !r.Valid() {
		return ""
	}
	return r.Owner.Data
}

package model

// SelectionState references the active household and member. The zero value
// means nothing is selected.
type SelectionState struct {
	HouseholdID string `json:"household_id,omitempty"`
	MemberID    string `json:"member_id,omitempty"`
}

func (s SelectionState) Empty() bool {
	return s.HouseholdID == "" && s.MemberID == ""
}

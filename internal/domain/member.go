package domain

// Member represents one connection's participation meta inside a room.
// No transport or lifecycle logic here.
type Member struct {
	Conn        ConnID
	Identity    ParticipantID
	DisplayName string
}

// NewMember avoids raw literals in the broker and keeps construction obvious.
func NewMember(conn ConnID, identity ParticipantID) *Member {
	return &Member{Conn: conn, Identity: identity}
}

package domain

// Principal is the authenticated caller as handed over by the auth layer.
// The zero value is anonymous.
type Principal struct {
	UserID string
	Role   Role
}

func (p Principal) Anonymous() bool { return p.UserID == "" }

// Identity is a principal resolved against one conversation: either the
// recruiter side or the job seeker side. It is resolved once when a session
// or request is verified and then passed through to every handler.
type Identity struct {
	UserID         string
	ConversationID string
	Side           Role
	PeerID         string
}

// ResolveIdentity places userID on a side of c.
func ResolveIdentity(c Conversation, userID string) (Identity, error) {
	switch {
	case userID == "":
		return Identity{}, ErrUnauthorized
	case userID == c.RecruiterID:
		return Identity{UserID: userID, ConversationID: c.ID, Side: RoleRecruiter, PeerID: c.JobSeekerID}, nil
	case userID == c.JobSeekerID:
		return Identity{UserID: userID, ConversationID: c.ID, Side: RoleJobSeeker, PeerID: c.RecruiterID}, nil
	}
	return Identity{}, ErrNotParticipant
}

func (i Identity) IsRecruiter() bool { return i.Side == RoleRecruiter }

// Counterpart is the user on the other side, the receiver of anything this identity sends.
func (i Identity) Counterpart() string { return i.PeerID }

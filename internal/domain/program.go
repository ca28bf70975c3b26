package domain

// Program is a labeled program events can link to. The Event↔Program linkage
// is bidirectional; the inverse side (EventIDs) is synchronized by the update
// orchestrator after event saves.
type Program struct {
	ID       string
	Title    string
	IsFree   bool
	Mentors  []string
	EventIDs []string
}

// IsMentor reports whether userID is a listed mentor of the program.
func (p *Program) IsMentor(userID string) bool {
	for _, m := range p.Mentors {
		if m == userID {
			return true
		}
	}
	return false
}

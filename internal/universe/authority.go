package universe

// Authority decides whether graph mutations take effect.
type Authority interface {
	Held() bool
}

type permanent struct{}

func (permanent) Held() bool { return true }

// Permanent is held for the graph's whole lifetime. The authoritative side
// uses it.
func Permanent() Authority {
	return permanent{}
}

// Scoped is held only while Graph.Apply is applying a fact. The zero value
// is not held.
type Scoped struct {
	held bool
}

func NewScoped() *Scoped {
	return &Scoped{}
}

func (s *Scoped) Held() bool {
	return s.held
}

// acquire grants authority until the returned release is called. Release
// restores the prior value so nested scopes unwind correctly.
func (s *Scoped) acquire() (release func()) {
	prev := s.held
	s.held = true
	return func() { s.held = prev }
}

package control

// PeerNetworkedController owns one peer's role-switched controller. The
// role is fixed at construction (spec.md §4.3's selection table) and
// dispatch to the wrapped RoleController is by interface call, not by a
// type switch or virtual inheritance chain.
type PeerNetworkedController struct {
	AuthorityPeer PeerID
	role          Role
	impl          RoleController
}

// NewPeerNetworkedController wraps an already-constructed role
// implementation. Callers typically build the role value with
// NewServerController/NewPlayerController/etc. first, picking which one
// to build from SelectRole.
func NewPeerNetworkedController(authority PeerID, role Role, impl RoleController) *PeerNetworkedController {
	return &PeerNetworkedController{AuthorityPeer: authority, role: role, impl: impl}
}

// Role reports which variant this controller wraps.
func (c *PeerNetworkedController) Role() Role {
	return c.role
}

// Process advances this controller by one fixed-step tick.
func (c *PeerNetworkedController) Process(delta float64) {
	c.impl.Process(delta)
}

// ReceiveInputs hands a raw input datagram to the wrapped controller.
func (c *PeerNetworkedController) ReceiveInputs(data []byte) error {
	return c.impl.ReceiveInputs(data)
}

// CurrentFrameIndex returns the wrapped controller's current frame id.
func (c *PeerNetworkedController) CurrentFrameIndex() FrameIndex {
	return c.impl.CurrentFrameIndex()
}

// AsServer returns the wrapped ServerController and true, or (nil, false)
// if this controller wraps a different role.
func (c *PeerNetworkedController) AsServer() (*ServerController, bool) {
	s, ok := c.impl.(*ServerController)
	return s, ok
}

// AsAutonomousServer returns the wrapped AutonomousServerController and
// true, or (nil, false) otherwise.
func (c *PeerNetworkedController) AsAutonomousServer() (*AutonomousServerController, bool) {
	s, ok := c.impl.(*AutonomousServerController)
	return s, ok
}

// AsPlayer returns the wrapped PlayerController and true, or (nil, false)
// otherwise.
func (c *PeerNetworkedController) AsPlayer() (*PlayerController, bool) {
	s, ok := c.impl.(*PlayerController)
	return s, ok
}

// AsDoll returns the wrapped DollController and true, or (nil, false)
// otherwise.
func (c *PeerNetworkedController) AsDoll() (*DollController, bool) {
	s, ok := c.impl.(*DollController)
	return s, ok
}

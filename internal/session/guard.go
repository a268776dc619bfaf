package session

// DecisionKind is the outcome of a route guard check.
type DecisionKind int

const (
	// Wait means the auth state is not settled yet; render nothing.
	Wait DecisionKind = iota
	// Redirect sends the caller to the login route.
	Redirect
	// Allow renders the protected route.
	Allow
)

func (k DecisionKind) String() string {
	switch k {
	case Wait:
		return "wait"
	case Redirect:
		return "redirect"
	case Allow:
		return "allow"
	default:
		return "unknown"
	}
}

// Decision is what the guard tells the router to do.
type Decision struct {
	Kind     DecisionKind
	Location string
}

// Guard protects routes that need a signed-in principal.
type Guard struct {
	LoginPath string
}

// NewGuard returns a guard redirecting to loginPath.
func NewGuard(loginPath string) Guard {
	if loginPath == "" {
		loginPath = "/login"
	}
	return Guard{LoginPath: loginPath}
}

// Decide never redirects before the state is settled, so a signed-in user
// reloading a protected page is not bounced to login.
func (g Guard) Decide(st State) Decision {
	switch {
	case !st.Settled:
		return Decision{Kind: Wait}
	case st.Principal == nil:
		return Decision{Kind: Redirect, Location: g.LoginPath}
	default:
		return Decision{Kind: Allow}
	}
}

// Package presentation decides what a client's primary viewport shows.
package presentation

import "sync"

// Mode is the layout of the primary viewport.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeGrid   Mode = "grid"
)

// View is what should be rendered.
//
// In single mode Primary is the focused participant, or the local participant
// when nothing is focused, and Thumbnails lists everyone else. In grid mode
// Tiles lists every participant in join order.
type View struct {
	Mode       Mode     `json:"mode"`
	Focused    string   `json:"focused,omitempty"`
	Primary    string   `json:"primary,omitempty"`
	Thumbnails []string `json:"thumbnails,omitempty"`
	Tiles      []string `json:"tiles,omitempty"`
}

// Router is the single/grid view state machine. It tracks its own membership
// from roster events and never depends on a media transport.
type Router struct {
	mu       sync.Mutex
	local    string
	members  []string
	mode     Mode
	focus    string
	onChange func(View)
}

// NewRouter starts in single view with nothing focused.
func NewRouter(localIdentity string) *Router {
	r := &Router{local: localIdentity, mode: ModeSingle}
	if localIdentity != "" {
		r.members = []string{localIdentity}
	}
	return r
}

// OnChange registers fn to receive the view after every transition that
// changed it. fn runs synchronously with the triggering call.
func (r *Router) OnChange(fn func(View)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// View returns the current view.
func (r *Router) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view()
}

func (r *Router) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Focused returns the focused participant, or "" when none.
func (r *Router) Focused() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focus
}

// ParticipantJoined adds identity to the membership. Duplicates are ignored.
func (r *Router) ParticipantJoined(identity string) {
	r.transition(func() {
		if identity != "" && r.index(identity) < 0 {
			r.members = append(r.members, identity)
		}
	})
}

// ParticipantLeft removes identity. If it was focused the router returns to
// the main view.
func (r *Router) ParticipantLeft(identity string) {
	r.transition(func() {
		i := r.index(identity)
		if i < 0 {
			return
		}
		r.members = append(r.members[:i], r.members[i+1:]...)
		if r.focus == identity {
			r.mode, r.focus = ModeSingle, ""
		}
	})
}

// ToggleGrid switches between single and grid view. Focus is cleared either way.
func (r *Router) ToggleGrid() {
	r.transition(func() {
		if r.mode == ModeGrid {
			r.mode = ModeSingle
		} else {
			r.mode = ModeGrid
		}
		r.focus = ""
	})
}

// Focus shows identity in single view. It reports false, and changes nothing,
// when identity is not a current member.
func (r *Router) Focus(identity string) bool {
	ok := false
	r.transition(func() {
		if r.index(identity) < 0 {
			return
		}
		r.mode, r.focus = ModeSingle, identity
		ok = true
	})
	return ok
}

// ReturnToMainView goes back to single view with nothing focused.
func (r *Router) ReturnToMainView() {
	r.transition(func() {
		r.mode, r.focus = ModeSingle, ""
	})
}

// Reset drops every remote member and returns to the initial state.
func (r *Router) Reset() {
	r.transition(func() {
		r.members = r.members[:0]
		if r.local != "" {
			r.members = append(r.members, r.local)
		}
		r.mode, r.focus = ModeSingle, ""
	})
}

func (r *Router) transition(fn func()) {
	r.mu.Lock()
	before := r.view()
	fn()
	after := r.view()
	cb := r.onChange
	r.mu.Unlock()
	if cb != nil && !equal(before, after) {
		cb(after)
	}
}

func (r *Router) index(identity string) int {
	for i, m := range r.members {
		if m == identity {
			return i
		}
	}
	return -1
}

func (r *Router) view() View {
	if r.mode == ModeGrid {
		return View{Mode: ModeGrid, Tiles: append([]string(nil), r.members...)}
	}
	primary := r.focus
	if primary == "" {
		primary = r.local
	}
	v := View{Mode: ModeSingle, Focused: r.focus, Primary: primary}
	for _, m := range r.members {
		if m != primary {
			v.Thumbnails = append(v.Thumbnails, m)
		}
	}
	return v
}

func equal(a, b View) bool {
	if a.Mode != b.Mode || a.Focused != b.Focused || a.Primary != b.Primary {
		return false
	}
	return sameList(a.Thumbnails, b.Thumbnails) && sameList(a.Tiles, b.Tiles)
}

func sameList(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

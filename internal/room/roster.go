package room

import "time"

// Participant is one roster entry.
type Participant struct {
	Identity   string
	IsLocal    bool
	HasVideo   bool
	HasAudio   bool
	IsSpeaking bool
	JoinedAt   time.Time
}

// roster keeps participants in join order. It is not safe for concurrent use;
// Connection guards it.
type roster struct {
	entries []Participant
}

func (r *roster) index(identity string) int {
	for i := range r.entries {
		if r.entries[i].Identity == identity {
			return i
		}
	}
	return -1
}

// add appends p unless the identity is already present.
func (r *roster) add(p Participant) bool {
	if r.index(p.Identity) >= 0 {
		return false
	}
	r.entries = append(r.entries, p)
	return true
}

func (r *roster) remove(identity string) (Participant, bool) {
	i := r.index(identity)
	if i < 0 {
		return Participant{}, false
	}
	p := r.entries[i]
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	return p, true
}

func (r *roster) get(identity string) (Participant, bool) {
	if i := r.index(identity); i >= 0 {
		return r.entries[i], true
	}
	return Participant{}, false
}

// update applies fn to the entry and reports whether it changed.
func (r *roster) update(identity string, fn func(p *Participant)) (Participant, bool) {
	i := r.index(identity)
	if i < 0 {
		return Participant{}, false
	}
	before := r.entries[i]
	fn(&r.entries[i])
	return r.entries[i], r.entries[i] != before
}

func (r *roster) snapshot() []Participant {
	out := make([]Participant, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *roster) remoteIdentities() []string {
	out := make([]string, 0, len(r.entries))
	for _, p := range r.entries {
		if !p.IsLocal {
			out = append(out, p.Identity)
		}
	}
	return out
}

func (r *roster) reset() {
	r.entries = nil
}
